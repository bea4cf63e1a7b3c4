package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itohio/gochiller/pkg/acquire"
	"github.com/itohio/gochiller/pkg/frame"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ReadingRecord is one stored reading, flattened into columns.
type ReadingRecord struct {
	ID         uint      `gorm:"primaryKey"`
	EventID    uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Seq        uint64    `gorm:"index"`
	ReceivedAt time.Time `gorm:"index"`

	ReservoirTemperature      float32
	ReservoirSetpoint         float32
	ReservoirLevelSense       float32
	ReservoirLevelRef         float32
	ChassisInsideTemperature  float32
	ChassisOutsideTemperature float32
	ChassisHumidity           float32
	ChassisFilterDP           int16
	FanTopTach                float32
	FanBottomTach             float32
	FanPWM                    int8 `gorm:"type:smallint"`
	CompressorRunning         bool
	CompressorValve           bool
	CompressorTime            int32
	ValveTime                 int32
	PumpRunning               bool
	PumpFlowOK                bool
	ErrorAlert                bool
	ErrorCode                 int16

	CreatedAt time.Time
}

func (ReadingRecord) TableName() string { return "reading_records" }

// FailureRecord is one stored transport failure or decode error.
type FailureRecord struct {
	ID         uint      `gorm:"primaryKey"`
	EventID    uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Seq        uint64    `gorm:"index"`
	ReceivedAt time.Time `gorm:"index"`
	Kind       string    `gorm:"size:32;index"` // failure kind or "decode_error"
	RawStatus  int
	Field      string `gorm:"size:64"`
	Reason     string `gorm:"size:64"`

	CreatedAt time.Time
}

func (FailureRecord) TableName() string { return "failure_records" }

// NewReadingRecord flattens the reading carried by ev.
func NewReadingRecord(ev acquire.Event) ReadingRecord {
	r := ev.Reading
	return ReadingRecord{
		EventID:                   ev.ID,
		Seq:                       ev.Seq,
		ReceivedAt:                ev.At,
		ReservoirTemperature:      r.Reservoir.Temperature,
		ReservoirSetpoint:         r.Reservoir.Setpoint,
		ReservoirLevelSense:       r.Reservoir.LevelSense,
		ReservoirLevelRef:         r.Reservoir.LevelRef,
		ChassisInsideTemperature:  r.Chassis.InsideTemperature,
		ChassisOutsideTemperature: r.Chassis.OutsideTemperature,
		ChassisHumidity:           r.Chassis.Humidity,
		ChassisFilterDP:           r.Chassis.FilterDP,
		FanTopTach:                r.Chassis.Fans.TopTach,
		FanBottomTach:             r.Chassis.Fans.BottomTach,
		FanPWM:                    r.Chassis.Fans.PWM,
		CompressorRunning:         r.Compressor.Running,
		CompressorValve:           r.Compressor.Valve,
		CompressorTime:            r.Compressor.CompressorTime,
		ValveTime:                 r.Compressor.ValveTime,
		PumpRunning:               r.Pump.Running,
		PumpFlowOK:                r.Pump.FlowOK,
		ErrorAlert:                r.Error.Alert,
		ErrorCode:                 r.Error.Code,
	}
}

// Reading rebuilds the stored reading.
func (rec ReadingRecord) Reading() frame.Reading {
	var r frame.Reading
	r.Reservoir.Temperature = rec.ReservoirTemperature
	r.Reservoir.Setpoint = rec.ReservoirSetpoint
	r.Reservoir.LevelSense = rec.ReservoirLevelSense
	r.Reservoir.LevelRef = rec.ReservoirLevelRef
	r.Chassis.InsideTemperature = rec.ChassisInsideTemperature
	r.Chassis.OutsideTemperature = rec.ChassisOutsideTemperature
	r.Chassis.Humidity = rec.ChassisHumidity
	r.Chassis.FilterDP = rec.ChassisFilterDP
	r.Chassis.Fans.TopTach = rec.FanTopTach
	r.Chassis.Fans.BottomTach = rec.FanBottomTach
	r.Chassis.Fans.PWM = rec.FanPWM
	r.Compressor.Running = rec.CompressorRunning
	r.Compressor.Valve = rec.CompressorValve
	r.Compressor.CompressorTime = rec.CompressorTime
	r.Compressor.ValveTime = rec.ValveTime
	r.Pump.Running = rec.PumpRunning
	r.Pump.FlowOK = rec.PumpFlowOK
	r.Error.Alert = rec.ErrorAlert
	r.Error.Code = rec.ErrorCode
	return r
}

// NewFailureRecord stores the transport failure carried by ev.
func NewFailureRecord(ev acquire.Event) FailureRecord {
	return FailureRecord{
		EventID:    ev.ID,
		Seq:        ev.Seq,
		ReceivedAt: ev.At,
		Kind:       ev.Failure.Kind.String(),
		RawStatus:  ev.Failure.RawStatus,
	}
}

// NewDecodeErrorRecord stores the decode error carried by ev.
func NewDecodeErrorRecord(ev acquire.Event) FailureRecord {
	return FailureRecord{
		EventID:    ev.ID,
		Seq:        ev.Seq,
		ReceivedAt: ev.At,
		Kind:       acquire.EventDecodeError.String(),
		Field:      ev.DecodeErr.Field,
		Reason:     ev.DecodeErr.Reason.String(),
	}
}

// Postgres inserts one row per event.
type Postgres struct {
	db      *gorm.DB
	timeout time.Duration
	log     zerolog.Logger

	now   func() time.Time
	newID func() uuid.UUID
}

var (
	_ acquire.Sink      = (*Postgres)(nil)
	_ acquire.EventSink = (*Postgres)(nil)
)

// OpenPostgres connects to dsn and migrates the tables.
func OpenPostgres(dsn string, log zerolog.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewPostgres(db, log)
}

// NewPostgres uses an open database, migrating the tables first.
func NewPostgres(db *gorm.DB, log zerolog.Logger) (*Postgres, error) {
	if err := db.AutoMigrate(&ReadingRecord{}, &FailureRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Postgres{
		db:      db,
		timeout: DefaultWriteTimeout,
		log:     log.With().Str("sink", "postgres").Logger(),
		now:     time.Now,
		newID:   uuid.New,
	}, nil
}

// OnEvent stores ev under the loop's ID and sequence number.
func (p *Postgres) OnEvent(ev acquire.Event) {
	if ev.ID == uuid.Nil {
		ev.ID = p.newID()
	}
	if ev.At.IsZero() {
		ev.At = p.now()
	}

	switch ev.Kind {
	case acquire.EventReading:
		rec := NewReadingRecord(ev)
		p.insert(&rec)
	case acquire.EventFailure:
		rec := NewFailureRecord(ev)
		p.insert(&rec)
	case acquire.EventDecodeError:
		rec := NewDecodeErrorRecord(ev)
		p.insert(&rec)
	}
}

func (p *Postgres) OnReading(r frame.Reading) {
	p.OnEvent(acquire.Event{Kind: acquire.EventReading, Reading: r})
}

func (p *Postgres) OnFailure(f acquire.TransportFailure) {
	p.OnEvent(acquire.Event{Kind: acquire.EventFailure, Failure: f})
}

func (p *Postgres) OnDecodeError(e frame.DecodeError) {
	p.OnEvent(acquire.Event{Kind: acquire.EventDecodeError, DecodeErr: e})
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) insert(rec any) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.db.WithContext(ctx).Create(rec).Error; err != nil {
		p.log.Warn().Err(err).Msg("failed to insert event")
	}
}
