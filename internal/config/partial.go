package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrConfigConstruction is returned when a target config cannot be built
// from the supplied option values.
var ErrConfigConstruction = errors.New("config construction failed")

// InferenceConfig is the subset of options consumed by the animation model.
type InferenceConfig struct {
	FlagUseHalfPrecision             bool    `yaml:"flag_use_half_precision" json:"flag_use_half_precision"`
	FlagCropDrivingVideo             bool    `yaml:"flag_crop_driving_video" json:"flag_crop_driving_video"`
	DeviceID                         int     `yaml:"device_id" json:"device_id"`
	FlagForceCPU                     bool    `yaml:"flag_force_cpu" json:"flag_force_cpu"`
	FlagNormalizeLip                 bool    `yaml:"flag_normalize_lip" json:"flag_normalize_lip"`
	FlagSourceVideoEyeRetargeting    bool    `yaml:"flag_source_video_eye_retargeting" json:"flag_source_video_eye_retargeting"`
	FlagEyeRetargeting               bool    `yaml:"flag_eye_retargeting" json:"flag_eye_retargeting"`
	FlagLipRetargeting               bool    `yaml:"flag_lip_retargeting" json:"flag_lip_retargeting"`
	FlagStitching                    bool    `yaml:"flag_stitching" json:"flag_stitching"`
	FlagRelativeMotion               bool    `yaml:"flag_relative_motion" json:"flag_relative_motion"`
	FlagPasteback                    bool    `yaml:"flag_pasteback" json:"flag_pasteback"`
	FlagDoCrop                       bool    `yaml:"flag_do_crop" json:"flag_do_crop"`
	DrivingOption                    string  `yaml:"driving_option" json:"driving_option" partial:"required"`
	DrivingMultiplier                float64 `yaml:"driving_multiplier" json:"driving_multiplier"`
	DrivingSmoothObservationVariance float64 `yaml:"driving_smooth_observation_variance" json:"driving_smooth_observation_variance"`
	SourceMaxDim                     int     `yaml:"source_max_dim" json:"source_max_dim"`
	SourceDivision                   int     `yaml:"source_division" json:"source_division"`
	AnimationRegion                  string  `yaml:"animation_region" json:"animation_region" partial:"required"`
}

// DefaultInferenceConfig returns the model defaults used for fields the
// argument record does not supply.
func DefaultInferenceConfig() InferenceConfig {
	return InferenceConfig{
		FlagUseHalfPrecision:             true,
		FlagStitching:                    true,
		FlagRelativeMotion:               true,
		FlagPasteback:                    true,
		FlagDoCrop:                       true,
		DrivingOption:                    "expression-friendly",
		DrivingMultiplier:                1.0,
		DrivingSmoothObservationVariance: 3e-7,
		SourceMaxDim:                     1280,
		SourceDivision:                   2,
		AnimationRegion:                  "all",
	}
}

// CropConfig is the subset of options consumed by face detection and cropping.
type CropConfig struct {
	DeviceID                int     `yaml:"device_id" json:"device_id"`
	FlagForceCPU            bool    `yaml:"flag_force_cpu" json:"flag_force_cpu"`
	DetThresh               float64 `yaml:"det_thresh" json:"det_thresh"`
	Scale                   float64 `yaml:"scale" json:"scale"`
	VxRatio                 float64 `yaml:"vx_ratio" json:"vx_ratio"`
	VyRatio                 float64 `yaml:"vy_ratio" json:"vy_ratio"`
	FlagDoRot               bool    `yaml:"flag_do_rot" json:"flag_do_rot"`
	ScaleCropDrivingVideo   float64 `yaml:"scale_crop_driving_video" json:"scale_crop_driving_video"`
	VxRatioCropDrivingVideo float64 `yaml:"vx_ratio_crop_driving_video" json:"vx_ratio_crop_driving_video"`
	VyRatioCropDrivingVideo float64 `yaml:"vy_ratio_crop_driving_video" json:"vy_ratio_crop_driving_video"`
}

// DefaultCropConfig returns the cropper defaults.
func DefaultCropConfig() CropConfig {
	return CropConfig{
		DetThresh:               0.15,
		Scale:                   2.3,
		VyRatio:                 -0.125,
		FlagDoRot:               true,
		ScaleCropDrivingVideo:   2.2,
		VyRatioCropDrivingVideo: -0.1,
	}
}

// Values flattens the record into option name -> value using the yaml tags.
func (c *ArgumentConfig) Values() map[string]any {
	return Options(c)
}

// Options flattens a tagged struct (or pointer to one) into option name -> value.
func Options(v any) map[string]any {
	rv := reflect.Indirect(reflect.ValueOf(v))
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name := optionName(t.Field(i))
		if name == "" {
			continue
		}
		out[name] = rv.Field(i).Interface()
	}
	return out
}

// AssembleInference builds the InferenceConfig view of args.
func AssembleInference(args *ArgumentConfig) (InferenceConfig, error) {
	return Partial(DefaultInferenceConfig(), args.Values())
}

// AssembleCrop builds the CropConfig view of args.
func AssembleCrop(args *ArgumentConfig) (CropConfig, error) {
	return Partial(DefaultCropConfig(), args.Values())
}

// Partial copies into base every value whose key names a field of T.
// Unknown keys are dropped. A field tagged partial:"required" must have a key
// in values, otherwise ErrConfigConstruction is returned.
func Partial[T any](base T, values map[string]any) (T, error) {
	out := base
	v := reflect.ValueOf(&out).Elem()
	t := v.Type()
	if t.Kind() != reflect.Struct {
		return base, fmt.Errorf("%w: %s is not a struct", ErrConfigConstruction, t)
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := optionName(field)
		if name == "" {
			continue
		}
		raw, ok := values[name]
		if !ok {
			if field.Tag.Get("partial") == "required" {
				return base, fmt.Errorf("%w: %s: missing required field %q", ErrConfigConstruction, t.Name(), name)
			}
			continue
		}
		val := reflect.ValueOf(raw)
		if !val.IsValid() || !val.Type().AssignableTo(field.Type) {
			return base, fmt.Errorf("%w: %s: field %q wants %s, got %T", ErrConfigConstruction, t.Name(), name, field.Type, raw)
		}
		v.Field(i).Set(val)
	}
	return out, nil
}

// ApplyEnv overrides fields from PORTRAIT_<OPTION> variables, e.g.
// PORTRAIT_PIPELINE_URL or PORTRAIT_DEVICE_ID. List values are whitespace separated.
func (c *ArgumentConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := optionName(t.Field(i))
		if name == "" {
			continue
		}
		key := "PORTRAIT_" + strings.ToUpper(name)
		raw, ok := lookup(key)
		if !ok {
			continue
		}
		if err := setFromString(v.Field(i), raw); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", key, raw, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFromString(f reflect.Value, raw string) error {
	if f.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
		return nil
	}
	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case reflect.Float64:
		x, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		f.SetFloat(x)
	case reflect.Slice:
		if f.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list type %s", f.Type())
		}
		f.Set(reflect.ValueOf(strings.Fields(raw)))
	default:
		return fmt.Errorf("unsupported type %s", f.Type())
	}
	return nil
}

func optionName(f reflect.StructField) string {
	if !f.IsExported() {
		return ""
	}
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// Override copies the named options from src into c. Names not declared by
// ArgumentConfig are ignored.
func (c *ArgumentConfig) Override(src *ArgumentConfig, names []string) {
	dst := reflect.ValueOf(c).Elem()
	from := reflect.ValueOf(src).Elem()
	t := dst.Type()
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	for i := 0; i < t.NumField(); i++ {
		if name := optionName(t.Field(i)); name != "" && want[name] {
			dst.Field(i).Set(from.Field(i))
		}
	}
}
