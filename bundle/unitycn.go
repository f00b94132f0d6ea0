package bundle

import (
	"crypto/aes"
	"fmt"

	"github.com/anaminus/unityfile/cursor"
)

// cnSignature is the plaintext that the signature vector of an encrypted
// bundle decrypts to under the correct key.
const cnSignature = "#$unity3dchina!@"

// KeySize is the length of a bundle decryption key.
const KeySize = 16

// KeyError indicates a decryption key that is malformed or does not match a
// bundle.
type KeyError struct {
	// Signature is the decrypted signature, when the key has the right size.
	Signature []byte
	Size      int
}

func (err KeyError) Error() string {
	if err.Signature == nil {
		return fmt.Sprintf("decrypt key must be %d bytes, got %d", KeySize, err.Size)
	}
	return fmt.Sprintf("decrypt key does not match bundle: signature %q", err.Signature)
}

// cnVectors is the encryption header that follows the archive flags of an
// encrypted bundle.
type cnVectors struct {
	Unknown uint32
	Data    [16]byte
	Key     [16]byte
	SigData [16]byte
	SigKey  [16]byte
}

func readCNVectors(r *cursor.Reader) (v cnVectors, failed bool) {
	v.Unknown = r.U32()
	r.Read(v.Data[:])
	r.Read(v.Key[:])
	r.Skip(1)
	r.Read(v.SigData[:])
	r.Read(v.SigKey[:])
	r.Skip(1)
	return v, r.Err() != nil
}

func writeCNVectors(w *cursor.Writer, v cnVectors) {
	w.U32(v.Unknown)
	w.Write(v.Data[:])
	w.Write(v.Key[:])
	w.U8(0)
	w.Write(v.SigData[:])
	w.Write(v.SigKey[:])
	w.U8(0)
}

// cnDecryptVector encrypts vector with key and XORs the result with data.
func cnDecryptVector(key []byte, vector, data [16]byte) ([16]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return [16]byte{}, err
	}
	var out [16]byte
	block.Encrypt(out[:], vector[:])
	for i := range out {
		out[i] ^= data[i]
	}
	return out, nil
}

// cnDecryptor decrypts the blocks of a bundle encrypted with UnityCN.
type cnDecryptor struct {
	index      [16]byte
	substitute [16]byte
}

func newCNDecryptor(key []byte, v cnVectors) (*cnDecryptor, error) {
	if len(key) != KeySize {
		return nil, KeyError{Size: len(key)}
	}
	sig, err := cnDecryptVector(key, v.SigKey, v.SigData)
	if err != nil {
		return nil, err
	}
	if string(sig[:]) != cnSignature {
		return nil, KeyError{Signature: sig[:], Size: len(key)}
	}
	data, err := cnDecryptVector(key, v.Key, v.Data)
	if err != nil {
		return nil, err
	}
	var nibbles [32]byte
	for i, b := range data {
		nibbles[i*2] = b >> 4
		nibbles[i*2+1] = b & 0xf
	}
	d := &cnDecryptor{}
	copy(d.index[:], nibbles[:16])
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			d.substitute[j*4+i] = nibbles[0x10+i*4+j]
		}
	}
	return d, nil
}

func (d *cnDecryptor) decryptByte(data []byte, offset, index int) byte {
	s := d.substitute[((index>>2)&3)+4] +
		d.substitute[index&3] +
		d.substitute[((index>>4)&3)+8] +
		d.substitute[((index%256)>>6)+12]
	b := data[offset]
	low := (d.index[b&0xf] - s) & 0xf
	high := (d.index[b>>4] - s) << 4
	data[offset] = low | high
	return data[offset]
}

// decryptSequence decrypts the encrypted bytes of one LZ4 sequence starting
// at data[0], and returns the number of bytes covered by the sequence.
func (d *cnDecryptor) decryptSequence(data []byte, index int) (offset int) {
	token := d.decryptByte(data, 0, index)
	offset, index = 1, index+1
	literal := int(token >> 4)
	match := token & 0xf
	if literal == 0xf {
		for offset < len(data) {
			b := d.decryptByte(data, offset, index)
			offset, index = offset+1, index+1
			literal += int(b)
			if b != 0xff {
				break
			}
		}
	}
	offset += literal
	if offset+1 < len(data) {
		// Match offset.
		d.decryptByte(data, offset, index)
		d.decryptByte(data, offset+1, index+1)
		offset, index = offset+2, index+2
		if match == 0xf {
			for offset < len(data) {
				b := d.decryptByte(data, offset, index)
				offset, index = offset+1, index+1
				if b != 0xff {
					break
				}
			}
		}
	}
	return offset
}

// decryptBlock decrypts a block in place. index is the index of the block
// within the bundle. Each sequence advances the index by one.
func (d *cnDecryptor) decryptBlock(data []byte, index int) {
	for offset := 0; offset < len(data); index++ {
		offset += d.decryptSequence(data[offset:], index)
	}
}
