// Package model describes how a segmentation network is trained and
// evaluated: which pretrained backbone feeds the shared decoder, which head
// shapes its output, and the loss, metric suite, optimizer and schedule that
// wrap it. The networks themselves live in the external training engine.
package model

import (
	"fmt"
	"strings"
)

type Backbone int

const (
	DenseNet201 Backbone = iota
	InceptionV3
	NASNetLarge
	ResNet152V2
	VGG19
	Xception
	MobileNetV2
)

var backboneNames = map[Backbone]string{
	DenseNet201: "densenet201",
	InceptionV3: "inceptionv3",
	NASNetLarge: "nasnetlarge",
	ResNet152V2: "resnet152v2",
	VGG19:       "vgg19",
	Xception:    "xception",
	MobileNetV2: "mobilenetv2",
}

func Backbones() []Backbone {
	return []Backbone{DenseNet201, InceptionV3, NASNetLarge, ResNet152V2, VGG19, Xception, MobileNetV2}
}

func (b Backbone) String() string {
	if name, ok := backboneNames[b]; ok {
		return name
	}
	return fmt.Sprintf("backbone(%d)", int(b))
}

// ModelName is the name a run is registered under for this
// backbone/decoder pairing.
func (b Backbone) ModelName() string {
	switch b {
	case DenseNet201:
		return "DenseNet201UNet"
	case InceptionV3:
		return "InceptionV3UNet"
	case NASNetLarge:
		return "NASNetLargeUNet"
	case ResNet152V2:
		return "ResNet152V2UNet"
	case VGG19:
		return "VGG19UNet"
	case Xception:
		return "XceptionUNet"
	case MobileNetV2:
		return "MobileNetV2UNet"
	default:
		return b.String()
	}
}

func ParseBackbone(s string) (Backbone, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimSuffix(name, "unet")
	for b, n := range backboneNames {
		if n == name {
			return b, nil
		}
	}
	return 0, &ConfigError{Field: "backbone", Value: s, Reason: "unknown backbone"}
}

func (b Backbone) MarshalText() ([]byte, error) {
	if _, ok := backboneNames[b]; !ok {
		return nil, &ConfigError{Field: "backbone", Value: int(b), Reason: "unknown backbone"}
	}
	return []byte(b.String()), nil
}

func (b *Backbone) UnmarshalText(text []byte) error {
	parsed, err := ParseBackbone(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
