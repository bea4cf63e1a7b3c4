package frame

// Reading is one decoded telemetry frame. Readings are values: each decode
// produces a new one and nothing updates it afterwards.
type Reading struct {
	Reservoir  Reservoir  `json:"reservoir"`
	Chassis    Chassis    `json:"chassis"`
	Compressor Compressor `json:"compressor"`
	Pump       Pump       `json:"pump"`
	Error      Error      `json:"error"`
}

type Reservoir struct {
	Temperature float32 `json:"temperature"` // °C
	Setpoint    float32 `json:"setpoint"`    // °C
	LevelSense  float32 `json:"level_sense"` // raw ADC
	LevelRef    float32 `json:"level_ref"`   // raw ADC
}

type Chassis struct {
	InsideTemperature  float32 `json:"inside_temperature"`
	OutsideTemperature float32 `json:"outside_temperature"`
	Humidity           float32 `json:"humidity"`
	FilterDP           int16   `json:"filter_dp"` // raw ADC
	Fans               Fans    `json:"fans"`
}

type Fans struct {
	TopTach    float32 `json:"top_tach"`    // RPM
	BottomTach float32 `json:"bottom_tach"` // RPM
	PWM        int8    `json:"pwm"`
}

type Compressor struct {
	Running        bool  `json:"running"`
	Valve          bool  `json:"valve"`
	CompressorTime int32 `json:"compressor_time"` // ms since last compressor switch
	ValveTime      int32 `json:"valve_time"`      // ms since last valve switch
}

type Pump struct {
	Running bool `json:"running"`
	FlowOK  bool `json:"flow_ok"`
}

type Error struct {
	Alert bool  `json:"alert"`
	Code  int16 `json:"code"`
}

// slot binds a field path to its place in a Reading. Exactly one accessor is set.
type slot struct {
	f32  func(*Reading) *float32
	i8   func(*Reading) *int8
	i16  func(*Reading) *int16
	i32  func(*Reading) *int32
	flag func(*Reading) *bool
}

var slots = map[string]slot{
	"reservoir.temperature":       {f32: func(r *Reading) *float32 { return &r.Reservoir.Temperature }},
	"reservoir.setpoint":          {f32: func(r *Reading) *float32 { return &r.Reservoir.Setpoint }},
	"reservoir.level_sense":       {f32: func(r *Reading) *float32 { return &r.Reservoir.LevelSense }},
	"reservoir.level_ref":         {f32: func(r *Reading) *float32 { return &r.Reservoir.LevelRef }},
	"chassis.inside_temperature":  {f32: func(r *Reading) *float32 { return &r.Chassis.InsideTemperature }},
	"chassis.outside_temperature": {f32: func(r *Reading) *float32 { return &r.Chassis.OutsideTemperature }},
	"chassis.humidity":            {f32: func(r *Reading) *float32 { return &r.Chassis.Humidity }},
	"chassis.filter_dp":           {i16: func(r *Reading) *int16 { return &r.Chassis.FilterDP }},
	"chassis.fans.top_tach":       {f32: func(r *Reading) *float32 { return &r.Chassis.Fans.TopTach }},
	"chassis.fans.bottom_tach":    {f32: func(r *Reading) *float32 { return &r.Chassis.Fans.BottomTach }},
	"chassis.fans.pwm":            {i8: func(r *Reading) *int8 { return &r.Chassis.Fans.PWM }},
	"compressor.running":          {flag: func(r *Reading) *bool { return &r.Compressor.Running }},
	"compressor.valve":            {flag: func(r *Reading) *bool { return &r.Compressor.Valve }},
	"compressor.compressor_time":  {i32: func(r *Reading) *int32 { return &r.Compressor.CompressorTime }},
	"compressor.valve_time":       {i32: func(r *Reading) *int32 { return &r.Compressor.ValveTime }},
	"pump.running":                {flag: func(r *Reading) *bool { return &r.Pump.Running }},
	"pump.flow_ok":                {flag: func(r *Reading) *bool { return &r.Pump.FlowOK }},
	"error.alert":                 {flag: func(r *Reading) *bool { return &r.Error.Alert }},
	"error.code":                  {i16: func(r *Reading) *int16 { return &r.Error.Code }},
}

// accepts reports whether a field of kind k can be stored in the slot.
func (s slot) accepts(k Kind) bool {
	switch k {
	case Float32:
		return s.f32 != nil
	case Int8:
		return s.i8 != nil
	case Int16:
		return s.i16 != nil
	case Int32:
		return s.i32 != nil
	case Bool8:
		return s.flag != nil
	}
	return false
}

// Flatten returns the reading keyed by dot-addressed field path.
func (r Reading) Flatten() map[string]any {
	out := make(map[string]any, len(slots))
	for path, s := range slots {
		switch {
		case s.f32 != nil:
			out[path] = *s.f32(&r)
		case s.i8 != nil:
			out[path] = *s.i8(&r)
		case s.i16 != nil:
			out[path] = *s.i16(&r)
		case s.i32 != nil:
			out[path] = *s.i32(&r)
		case s.flag != nil:
			out[path] = *s.flag(&r)
		}
	}
	return out
}
