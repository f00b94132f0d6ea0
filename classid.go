package unityfile

import (
	"strconv"
)

// ClassID identifies the native class of an object.
type ClassID int32

const (
	ClassUnknown       ClassID = -1
	ClassObject        ClassID = 0
	ClassGameObject    ClassID = 1
	ClassComponent     ClassID = 2
	ClassTransform     ClassID = 4
	ClassMaterial      ClassID = 21
	ClassTexture2D     ClassID = 28
	ClassMesh          ClassID = 43
	ClassShader        ClassID = 48
	ClassTextAsset     ClassID = 49
	ClassAnimationClip ClassID = 74
	ClassAudioClip     ClassID = 83
	ClassCubemap       ClassID = 89
	ClassAnimatorCtrl  ClassID = 91
	ClassAnimator      ClassID = 95
	ClassMonoBehaviour ClassID = 114
	ClassMonoScript    ClassID = 115
	ClassFont          ClassID = 128
	ClassAssetBundle   ClassID = 142
	ClassPreloadData   ClassID = 150
	ClassMovieTexture  ClassID = 152
	ClassTerrainData   ClassID = 156
	ClassSprite        ClassID = 213
	ClassVideoClip     ClassID = 329
	ClassSpriteAtlas   ClassID = 687078895
)

var classNames = map[ClassID]string{
	ClassObject:        "Object",
	ClassGameObject:    "GameObject",
	ClassComponent:     "Component",
	ClassTransform:     "Transform",
	ClassMaterial:      "Material",
	ClassTexture2D:     "Texture2D",
	ClassMesh:          "Mesh",
	ClassShader:        "Shader",
	ClassTextAsset:     "TextAsset",
	ClassAnimationClip: "AnimationClip",
	ClassAudioClip:     "AudioClip",
	ClassCubemap:       "Cubemap",
	ClassAnimatorCtrl:  "AnimatorController",
	ClassAnimator:      "Animator",
	ClassMonoBehaviour: "MonoBehaviour",
	ClassMonoScript:    "MonoScript",
	ClassFont:          "Font",
	ClassAssetBundle:   "AssetBundle",
	ClassPreloadData:   "PreloadData",
	ClassMovieTexture:  "MovieTexture",
	ClassTerrainData:   "TerrainData",
	ClassSprite:        "Sprite",
	ClassVideoClip:     "VideoClip",
	ClassSpriteAtlas:   "SpriteAtlas",
}

// String returns the name of the class, or "ClassID(n)" for classes without
// a known name.
func (c ClassID) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return "ClassID(" + strconv.FormatInt(int64(c), 10) + ")"
}
