package dispatch

import (
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Command is one decoded protocol request. Params holds the method specific
// fields exactly as received; handlers decode them into typed parameter
// structs on demand.
type Command struct {
	ID        int64
	Method    string
	SessionID string
	Params    map[string]any
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeParams fills a typed parameter struct from a command's raw field bag
// and validates it. Numeric fields arrive as float64 from the JSON decoder,
// so weakly typed decoding is enabled.
func decodeParams(cmd *Command, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ErrInvalidParams.MsgErr("building parameter decoder", err)
	}
	if err := dec.Decode(cmd.Params); err != nil {
		return ErrInvalidParams.MsgErr("decoding parameters", err)
	}
	if err := validate.Struct(out); err != nil {
		return ErrInvalidParams.MsgErr("validating parameters", err)
	}
	return nil
}

type createParams struct {
	Proxy          map[string]any `json:"proxy"`
	Fingerprint    map[string]any `json:"fingerprint"`
	Headless       *bool          `json:"headless"`
	BlockResources bool           `json:"block_resources"`
	Verification   string         `json:"verification" validate:"omitempty,oneof=none basic standard strict"`
}

type navigateParams struct {
	URL          string `json:"url" validate:"required"`
	WaitUntil    string `json:"wait_until" validate:"omitempty,oneof=none domcontentloaded load networkidle"`
	TimeoutMs    int    `json:"timeout_ms" validate:"omitempty,gte=0"`
	Verification string `json:"verification" validate:"omitempty,oneof=none basic standard strict"`
}

type clickParams struct {
	Selector     string `json:"selector" validate:"required"`
	Button       string `json:"button" validate:"omitempty,oneof=left middle right"`
	Clicks       int    `json:"clicks" validate:"omitempty,gte=1,lte=3"`
	TimeoutMs    int    `json:"timeout_ms" validate:"omitempty,gte=0"`
	Verification string `json:"verification" validate:"omitempty,oneof=none basic standard strict"`
}

type typeParams struct {
	Selector     string `json:"selector" validate:"required"`
	Text         string `json:"text"`
	Clear        bool   `json:"clear"`
	TimeoutMs    int    `json:"timeout_ms" validate:"omitempty,gte=0"`
	Verification string `json:"verification" validate:"omitempty,oneof=none basic standard strict"`
}

type pickParams struct {
	Selector     string `json:"selector" validate:"required"`
	Value        string `json:"value" validate:"required"`
	Verification string `json:"verification" validate:"omitempty,oneof=none basic standard strict"`
}

type scrollParams struct {
	DeltaX       int    `json:"delta_x"`
	DeltaY       int    `json:"delta_y"`
	Verification string `json:"verification" validate:"omitempty,oneof=none basic standard strict"`
}

type hoverParams struct {
	Selector     string `json:"selector" validate:"required"`
	Verification string `json:"verification" validate:"omitempty,oneof=none basic standard strict"`
}

type uploadParams struct {
	Selector     string   `json:"selector" validate:"required"`
	Paths        []string `json:"paths" validate:"required,min=1,dive,required"`
	Verification string   `json:"verification" validate:"omitempty,oneof=none basic standard strict"`
}

type evaluateParams struct {
	Script string `json:"script" validate:"required"`
	Return bool   `json:"return"`
}

type queryParams struct {
	Selector string `json:"selector" validate:"required"`
}

type captureParams struct {
	Mode string `json:"mode" validate:"omitempty,oneof=viewport fullpage"`
}

type waitStableParams struct {
	TimeoutMs int `json:"timeout_ms" validate:"omitempty,gte=0"`
}
