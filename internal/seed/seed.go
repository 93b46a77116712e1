// Package seed loads device seed profiles written in CUE and applies
// them to a fresh environment.
//
// A profile is declarative initial state: events, messages, location
// trail, weather. Loading unifies the profile against the embedded
// schema, so authoring mistakes surface as CUE errors with positions
// rather than as half-seeded environments.
package seed

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/mirrorlab/devicesim/internal/device"
	"github.com/mirrorlab/devicesim/internal/fault"
	"github.com/mirrorlab/devicesim/internal/recur"
)

//go:embed schema.cue
var schemaCUE string

// Profile is a decoded seed profile. Items apply in declaration order,
// facet by facet, in the order the fields are listed here.
type Profile struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start,omitempty"`

	Calendar  []EventSeed    `json:"calendar,omitempty"`
	Chat      []ChatSeed     `json:"chat,omitempty"`
	Email     []EmailSeed    `json:"email,omitempty"`
	SMS       []SMSSeed      `json:"sms,omitempty"`
	Locations []LocationSeed `json:"locations,omitempty"`
	Weather   *WeatherSeed   `json:"weather,omitempty"`
}

// EventSeed declares one calendar event. At, when set, is the creation
// instant the clock advances to before the event is created.
type EventSeed struct {
	ID          string      `json:"id,omitempty"`
	At          time.Time   `json:"at,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`
	StartsAt    time.Time   `json:"starts_at"`
	EndsAt      time.Time   `json:"ends_at"`
	Recurrence  *recur.Rule `json:"recurrence,omitempty"`
}

// ChatSeed declares one chat message.
type ChatSeed struct {
	ID             string    `json:"id,omitempty"`
	At             time.Time `json:"at,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Sender         string    `json:"sender"`
	Recipients     []string  `json:"recipients,omitempty"`
	Body           string    `json:"body,omitempty"`
}

// EmailSeed declares one email. Direction defaults to inbound; Read
// marks an inbound message read after delivery.
type EmailSeed struct {
	ID        string    `json:"id,omitempty"`
	At        time.Time `json:"at,omitempty"`
	Direction string    `json:"direction,omitempty"`
	From      string    `json:"from"`
	To        []string  `json:"to,omitempty"`
	Cc        []string  `json:"cc,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body,omitempty"`
	Folder    string    `json:"folder,omitempty"`
	Read      bool      `json:"read,omitempty"`
}

// SMSSeed declares one text message.
type SMSSeed struct {
	ID        string    `json:"id,omitempty"`
	At        time.Time `json:"at,omitempty"`
	Direction string    `json:"direction,omitempty"`
	From      string    `json:"from"`
	To        []string  `json:"to,omitempty"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read,omitempty"`
}

// LocationSeed declares one position fix in the device's trail.
type LocationSeed struct {
	At            time.Time `json:"at,omitempty"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	NamedLocation string    `json:"named_location,omitempty"`
	Address       string    `json:"address,omitempty"`
	Altitude      *float64  `json:"altitude,omitempty"`
	Accuracy      *float64  `json:"accuracy,omitempty"`
	Speed         *float64  `json:"speed,omitempty"`
	Bearing       *float64  `json:"bearing,omitempty"`
}

// WeatherSeed declares current conditions and forecasts.
type WeatherSeed struct {
	Current   []WeatherCurrentSeed  `json:"current,omitempty"`
	Forecasts []WeatherForecastSeed `json:"forecasts,omitempty"`
}

type WeatherCurrentSeed struct {
	City         string   `json:"city"`
	Condition    string   `json:"condition,omitempty"`
	TemperatureC float64  `json:"temperature_c"`
	HumidityPct  *float64 `json:"humidity_pct,omitempty"`
	WindKph      *float64 `json:"wind_kph,omitempty"`
}

type WeatherForecastSeed struct {
	ID        string    `json:"id,omitempty"`
	City      string    `json:"city"`
	At        time.Time `json:"at"`
	Condition string    `json:"condition,omitempty"`
	HighC     float64   `json:"high_c"`
	LowC      float64   `json:"low_c"`
}

// Load reads and validates one profile file. The file must declare a
// top-level "profile" struct.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return Parse(string(data), path)
}

// Parse validates and decodes profile source. filename is used for CUE
// error positions only.
func Parse(src, filename string) (*Profile, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile profile schema: %w", err)
	}

	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile profile: %w", err)
	}

	profVal := v.LookupPath(cue.ParsePath("profile"))
	if !profVal.Exists() {
		return nil, fault.InvalidArgumentf("profile %s: missing top-level \"profile\" struct", filename)
	}

	unified := schema.LookupPath(cue.ParsePath("#Profile")).Unify(profVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate profile: %w", err)
	}

	var prof Profile
	if err := unified.Decode(&prof); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &prof, nil
}

// NewEnvironment builds an environment from a profile: the clock starts
// at the profile's start instant and every declared item is applied.
func NewEnvironment(prof *Profile, opts ...device.Option) (*device.Environment, error) {
	env := device.New(prof.Start, opts...)
	if err := Apply(env, prof); err != nil {
		return nil, err
	}
	return env, nil
}

// Apply seeds env with the profile's contents. Items apply facet by
// facet in declaration order; an item's At, when set and in the
// future, advances the clock first, so declared timestamps become the
// stored stamps. At instants must therefore not go backwards across
// the profile.
func Apply(env *device.Environment, prof *Profile) error {
	for _, ev := range prof.Calendar {
		if err := advanceTo(env, ev.At); err != nil {
			return err
		}
		_, err := env.Calendar().CreateEvent(device.EventInput{
			ID:          ev.ID,
			Title:       ev.Title,
			Description: ev.Description,
			Location:    ev.Location,
			StartsAt:    ev.StartsAt,
			EndsAt:      ev.EndsAt,
			Recurrence:  ev.Recurrence,
		})
		if err != nil {
			return fmt.Errorf("seed calendar event %q: %w", ev.Title, err)
		}
	}

	for _, msg := range prof.Chat {
		if err := advanceTo(env, msg.At); err != nil {
			return err
		}
		_, err := env.Chat().SendMessage(device.ChatInput{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Sender:         msg.Sender,
			Recipients:     msg.Recipients,
			Body:           msg.Body,
		})
		if err != nil {
			return fmt.Errorf("seed chat message from %q: %w", msg.Sender, err)
		}
	}

	for _, msg := range prof.Email {
		if err := advanceTo(env, msg.At); err != nil {
			return err
		}
		in := device.EmailInput{
			ID: msg.ID, ThreadID: "",
			From: msg.From, To: msg.To, Cc: msg.Cc,
			Subject: msg.Subject, Body: msg.Body, Folder: msg.Folder,
		}
		var (
			stored device.EmailMessage
			err    error
		)
		if msg.Direction == "outbound" {
			stored, err = env.Email().Send(in)
		} else {
			stored, err = env.Email().Receive(in)
		}
		if err != nil {
			return fmt.Errorf("seed email %q: %w", msg.Subject, err)
		}
		if msg.Read && !stored.IsRead {
			if err := env.Email().MarkRead(stored.ID); err != nil {
				return fmt.Errorf("seed email %q: %w", msg.Subject, err)
			}
		}
	}

	for _, msg := range prof.SMS {
		if err := advanceTo(env, msg.At); err != nil {
			return err
		}
		in := device.SMSInput{ID: msg.ID, From: msg.From, To: msg.To, Body: msg.Body}
		var (
			stored device.SMSMessage
			err    error
		)
		if msg.Direction == "outbound" {
			stored, err = env.SMS().Send(in)
		} else {
			stored, err = env.SMS().Receive(in)
		}
		if err != nil {
			return fmt.Errorf("seed sms from %q: %w", msg.From, err)
		}
		if msg.Read && !stored.IsRead {
			if err := env.SMS().MarkRead(stored.ID); err != nil {
				return fmt.Errorf("seed sms from %q: %w", msg.From, err)
			}
		}
	}

	for _, loc := range prof.Locations {
		if err := advanceTo(env, loc.At); err != nil {
			return err
		}
		_, err := env.Location().Set(device.LocationInput{
			Latitude:      loc.Latitude,
			Longitude:     loc.Longitude,
			NamedLocation: loc.NamedLocation,
			Address:       loc.Address,
			Altitude:      loc.Altitude,
			Accuracy:      loc.Accuracy,
			Speed:         loc.Speed,
			Bearing:       loc.Bearing,
		})
		if err != nil {
			return fmt.Errorf("seed location: %w", err)
		}
	}

	if prof.Weather != nil {
		for _, cur := range prof.Weather.Current {
			_, err := env.Weather().SetCurrent(device.WeatherInput{
				City:         cur.City,
				Condition:    cur.Condition,
				TemperatureC: cur.TemperatureC,
				HumidityPct:  cur.HumidityPct,
				WindKph:      cur.WindKph,
			})
			if err != nil {
				return fmt.Errorf("seed weather for %q: %w", cur.City, err)
			}
		}
		for _, fc := range prof.Weather.Forecasts {
			_, err := env.Weather().AddForecast(device.ForecastInput{
				ID:        fc.ID,
				City:      fc.City,
				At:        fc.At,
				Condition: fc.Condition,
				HighC:     fc.HighC,
				LowC:      fc.LowC,
			})
			if err != nil {
				return fmt.Errorf("seed forecast for %q: %w", fc.City, err)
			}
		}
	}

	return nil
}

// advanceTo moves the clock forward to at. A zero instant keeps the
// current time; an instant behind the clock fails rather than letting
// declared stamps silently diverge from stored ones.
func advanceTo(env *device.Environment, at time.Time) error {
	if at.IsZero() {
		return nil
	}
	delta := at.Sub(env.Now())
	if delta < 0 {
		return fault.InvalidArgumentf("seed item at %s is before the clock's %s; order profile items chronologically",
			at.Format(time.RFC3339), env.Now().Format(time.RFC3339))
	}
	if delta == 0 {
		return nil
	}
	return env.AdvanceClock(delta)
}
