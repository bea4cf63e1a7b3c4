package frame

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/chewxy/math32"
)

// jsonFloat is a float32 that survives JSON when it is not finite. A stopped
// fan reports an infinite tach, so NaN and ±Inf are written as the strings
// "NaN", "+Inf" and "-Inf", the same spelling zerolog uses.
type jsonFloat float32

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float32(f)
	switch {
	case math32.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math32.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math32.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch s {
		case "NaN":
			*f = jsonFloat(math32.NaN())
		case "+Inf", "Inf", "Infinity":
			*f = jsonFloat(math32.Inf(1))
		case "-Inf", "-Infinity":
			*f = jsonFloat(math32.Inf(-1))
		default:
			return fmt.Errorf("frame: invalid float %q", s)
		}
		return nil
	}

	var v float32
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

type reservoirJSON struct {
	Temperature jsonFloat `json:"temperature"`
	Setpoint    jsonFloat `json:"setpoint"`
	LevelSense  jsonFloat `json:"level_sense"`
	LevelRef    jsonFloat `json:"level_ref"`
}

func (r Reservoir) MarshalJSON() ([]byte, error) {
	return json.Marshal(reservoirJSON{
		Temperature: jsonFloat(r.Temperature),
		Setpoint:    jsonFloat(r.Setpoint),
		LevelSense:  jsonFloat(r.LevelSense),
		LevelRef:    jsonFloat(r.LevelRef),
	})
}

func (r *Reservoir) UnmarshalJSON(data []byte) error {
	var v reservoirJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Reservoir{
		Temperature: float32(v.Temperature),
		Setpoint:    float32(v.Setpoint),
		LevelSense:  float32(v.LevelSense),
		LevelRef:    float32(v.LevelRef),
	}
	return nil
}

type chassisJSON struct {
	InsideTemperature  jsonFloat `json:"inside_temperature"`
	OutsideTemperature jsonFloat `json:"outside_temperature"`
	Humidity           jsonFloat `json:"humidity"`
	FilterDP           int16     `json:"filter_dp"`
	Fans               Fans      `json:"fans"`
}

func (c Chassis) MarshalJSON() ([]byte, error) {
	return json.Marshal(chassisJSON{
		InsideTemperature:  jsonFloat(c.InsideTemperature),
		OutsideTemperature: jsonFloat(c.OutsideTemperature),
		Humidity:           jsonFloat(c.Humidity),
		FilterDP:           c.FilterDP,
		Fans:               c.Fans,
	})
}

func (c *Chassis) UnmarshalJSON(data []byte) error {
	var v chassisJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = Chassis{
		InsideTemperature:  float32(v.InsideTemperature),
		OutsideTemperature: float32(v.OutsideTemperature),
		Humidity:           float32(v.Humidity),
		FilterDP:           v.FilterDP,
		Fans:               v.Fans,
	}
	return nil
}

type fansJSON struct {
	TopTach    jsonFloat `json:"top_tach"`
	BottomTach jsonFloat `json:"bottom_tach"`
	PWM        int8      `json:"pwm"`
}

func (f Fans) MarshalJSON() ([]byte, error) {
	return json.Marshal(fansJSON{
		TopTach:    jsonFloat(f.TopTach),
		BottomTach: jsonFloat(f.BottomTach),
		PWM:        f.PWM,
	})
}

func (f *Fans) UnmarshalJSON(data []byte) error {
	var v fansJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Fans{
		TopTach:    float32(v.TopTach),
		BottomTach: float32(v.BottomTach),
		PWM:        v.PWM,
	}
	return nil
}
