package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mirrorlab/devicesim/internal/device"
	"github.com/mirrorlab/devicesim/internal/recur"
)

// Replay rebuilds an environment by re-applying a recorded mutation
// stream to a fresh environment anchored at start. Because clock
// operations are part of the stream and every recorded mutation carries
// its assigned id, the rebuilt environment's canonical state hash
// matches the original's.
//
// The returned environment has no recorder attached; pass
// device.WithRecorder in opts to capture the replayed session again.
func Replay(ctx context.Context, log *Log, start time.Time, opts ...device.Option) (*device.Environment, error) {
	events, err := log.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	env := device.New(start, opts...)
	for i, ev := range events {
		if err := Apply(env, ev); err != nil {
			return nil, fmt.Errorf("replay event %d (%s/%s): %w", i, ev.Facet, ev.Op, err)
		}
	}
	return env, nil
}

// Apply dispatches one event on its (facet, op) pair. Exported because
// the scenario harness feeds authored steps through the same dispatch
// as recorded events.
func Apply(env *device.Environment, ev device.MutationEvent) error {
	dec := argDecoder{args: ev.Args}

	switch ev.Facet {
	case device.FacetClock:
		return applyClock(env, ev.Op, &dec)

	case device.FacetCalendar:
		return applyCalendar(env, ev, &dec)

	case device.FacetChat:
		if ev.Op != device.OpChatSend {
			return fmt.Errorf("unknown chat op %q", ev.Op)
		}
		in := device.ChatInput{
			ID:             dec.str("id"),
			ConversationID: dec.str("conversation_id"),
			Sender:         dec.str("sender"),
			Recipients:     dec.strs("recipients"),
			Body:           dec.str("body"),
		}
		if dec.err != nil {
			return dec.err
		}
		_, err := env.Chat().SendMessage(in)
		return err

	case device.FacetSMS:
		return applySMS(env, ev.Op, &dec)

	case device.FacetEmail:
		return applyEmail(env, ev.Op, &dec)

	case device.FacetLocation:
		if ev.Op != device.OpLocationSet {
			return fmt.Errorf("unknown location op %q", ev.Op)
		}
		in := device.LocationInput{
			Latitude:      dec.f64("latitude"),
			Longitude:     dec.f64("longitude"),
			NamedLocation: dec.str("named_location"),
			Address:       dec.str("address"),
			Altitude:      dec.optF64("altitude"),
			Accuracy:      dec.optF64("accuracy"),
			Speed:         dec.optF64("speed"),
			Bearing:       dec.optF64("bearing"),
		}
		if dec.err != nil {
			return dec.err
		}
		_, err := env.Location().Set(in)
		return err

	case device.FacetWeather:
		return applyWeather(env, ev.Op, &dec)
	}

	return fmt.Errorf("unknown facet %q", ev.Facet)
}

func applyClock(env *device.Environment, op device.Op, dec *argDecoder) error {
	switch op {
	case device.OpClockAdvance:
		delta := time.Duration(dec.i64("delta_ns"))
		if dec.err != nil {
			return dec.err
		}
		return env.AdvanceClock(delta)
	case device.OpClockTick:
		elapsed := time.Duration(dec.i64("elapsed_ns"))
		if dec.err != nil {
			return dec.err
		}
		return env.TickClock(elapsed)
	case device.OpClockPause:
		return env.PauseClock()
	case device.OpClockResume:
		return env.ResumeClock()
	case device.OpClockSetScale:
		scale := dec.f64("scale")
		if dec.err != nil {
			return dec.err
		}
		return env.SetClockScale(scale)
	case device.OpClockSetAutoAdvance:
		enabled := dec.boolean("enabled")
		if dec.err != nil {
			return dec.err
		}
		return env.SetAutoAdvance(enabled)
	}
	return fmt.Errorf("unknown clock op %q", op)
}

func applyCalendar(env *device.Environment, ev device.MutationEvent, dec *argDecoder) error {
	switch ev.Op {
	case device.OpCalendarCreate:
		in := device.EventInput{
			ID:          dec.str("id"),
			Title:       dec.str("title"),
			Description: dec.str("description"),
			Location:    dec.str("location"),
			StartsAt:    dec.at("starts_at"),
			EndsAt:      dec.at("ends_at"),
		}
		if dec.has("recurrence") {
			rule, err := decodeRule(dec.args["recurrence"])
			if err != nil {
				return err
			}
			in.Recurrence = rule
		}
		if dec.err != nil {
			return dec.err
		}
		_, err := env.Calendar().CreateEvent(in)
		return err

	case device.OpCalendarUpdate:
		var upd device.EventUpdate
		if dec.has("title") {
			upd.Title = ptr(dec.str("title"))
		}
		if dec.has("description") {
			upd.Description = ptr(dec.str("description"))
		}
		if dec.has("location") {
			upd.Location = ptr(dec.str("location"))
		}
		if dec.has("starts_at") {
			upd.StartsAt = ptr(dec.at("starts_at"))
		}
		if dec.has("ends_at") {
			upd.EndsAt = ptr(dec.at("ends_at"))
		}
		if dec.has("recurrence") {
			rule, err := decodeRule(dec.args["recurrence"])
			if err != nil {
				return err
			}
			upd.Recurrence = rule
		}
		if dec.err != nil {
			return dec.err
		}
		_, err := env.Calendar().UpdateEvent(dec.str("id"), upd)
		return err

	case device.OpCalendarDelete:
		return env.Calendar().DeleteEvent(ev.EntityID)
	}
	return fmt.Errorf("unknown calendar op %q", ev.Op)
}

func applySMS(env *device.Environment, op device.Op, dec *argDecoder) error {
	switch op {
	case device.OpSMSSend, device.OpSMSReceive:
		in := device.SMSInput{
			ID:       dec.str("id"),
			ThreadID: dec.str("thread_id"),
			From:     dec.str("from"),
			To:       dec.strs("to"),
			Body:     dec.str("body"),
		}
		if dec.err != nil {
			return dec.err
		}
		var err error
		if op == device.OpSMSSend {
			_, err = env.SMS().Send(in)
		} else {
			_, err = env.SMS().Receive(in)
		}
		return err
	case device.OpSMSMarkRead:
		ids := dec.strs("ids")
		if dec.err != nil {
			return dec.err
		}
		return env.SMS().MarkRead(ids...)
	}
	return fmt.Errorf("unknown sms op %q", op)
}

func applyEmail(env *device.Environment, op device.Op, dec *argDecoder) error {
	switch op {
	case device.OpEmailSend, device.OpEmailReceive:
		in := device.EmailInput{
			ID:       dec.str("id"),
			ThreadID: dec.str("thread_id"),
			From:     dec.str("from"),
			To:       dec.strs("to"),
			Cc:       dec.strs("cc"),
			Subject:  dec.str("subject"),
			Body:     dec.str("body"),
			Folder:   dec.str("folder"),
		}
		if dec.err != nil {
			return dec.err
		}
		var err error
		if op == device.OpEmailSend {
			_, err = env.Email().Send(in)
		} else {
			_, err = env.Email().Receive(in)
		}
		return err
	case device.OpEmailMarkRead:
		ids := dec.strs("ids")
		if dec.err != nil {
			return dec.err
		}
		return env.Email().MarkRead(ids...)
	}
	return fmt.Errorf("unknown email op %q", op)
}

func applyWeather(env *device.Environment, op device.Op, dec *argDecoder) error {
	switch op {
	case device.OpWeatherSetCurrent:
		in := device.WeatherInput{
			City:         dec.str("city"),
			Condition:    dec.str("condition"),
			TemperatureC: dec.f64("temperature_c"),
			HumidityPct:  dec.optF64("humidity_pct"),
			WindKph:      dec.optF64("wind_kph"),
		}
		if dec.err != nil {
			return dec.err
		}
		_, err := env.Weather().SetCurrent(in)
		return err
	case device.OpWeatherAddForecast:
		in := device.ForecastInput{
			ID:        dec.str("id"),
			City:      dec.str("city"),
			At:        dec.at("at"),
			Condition: dec.str("condition"),
			HighC:     dec.f64("high_c"),
			LowC:      dec.f64("low_c"),
		}
		if dec.err != nil {
			return dec.err
		}
		_, err := env.Weather().AddForecast(in)
		return err
	}
	return fmt.Errorf("unknown weather op %q", op)
}

// decodeRule is the inverse of the calendar facet's rule encoding.
func decodeRule(v any) (*recur.Rule, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("recurrence rule must be an object, got %T", v)
	}
	dec := argDecoder{args: obj}

	rule := recur.Rule{
		Frequency: recur.Frequency(dec.str("frequency")),
		Interval:  int(dec.i64("interval")),
		End:       recur.End{Type: recur.EndType(dec.str("end_type"))},
	}
	if raw, ok := obj["days_of_week"]; ok {
		days, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("days_of_week must be an array, got %T", raw)
		}
		for _, d := range days {
			n, err := toInt64(d)
			if err != nil {
				return nil, fmt.Errorf("days_of_week: %w", err)
			}
			rule.DaysOfWeek = append(rule.DaysOfWeek, time.Weekday(n))
		}
	}
	switch rule.End.Type {
	case recur.AfterCount:
		rule.End.Count = int(dec.i64("end_count"))
	case recur.OnDate:
		rule.End.Date = dec.at("end_date")
	}
	if dec.err != nil {
		return nil, dec.err
	}
	return &rule, nil
}

// argDecoder reads typed values out of a decoded args map with a sticky
// error, so dispatch code stays flat. Absent keys read as zero values;
// only present-but-malformed values set the error.
type argDecoder struct {
	args map[string]any
	err  error
}

func (d *argDecoder) has(key string) bool {
	_, ok := d.args[key]
	return ok
}

func (d *argDecoder) fail(key string, got any, want string) {
	if d.err == nil {
		d.err = fmt.Errorf("arg %q: expected %s, got %T", key, want, got)
	}
}

func (d *argDecoder) str(key string) string {
	raw, ok := d.args[key]
	if !ok || raw == nil {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		d.fail(key, raw, "string")
		return ""
	}
	return s
}

func (d *argDecoder) strs(key string) []string {
	raw, ok := d.args[key]
	if !ok || raw == nil {
		return nil
	}
	arr, ok := raw.([]any)
	if !ok {
		d.fail(key, raw, "array")
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			d.fail(key, item, "string")
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (d *argDecoder) i64(key string) int64 {
	raw, ok := d.args[key]
	if !ok {
		return 0
	}
	n, err := toInt64(raw)
	if err != nil {
		d.fail(key, raw, "integer")
		return 0
	}
	return n
}

func (d *argDecoder) f64(key string) float64 {
	raw, ok := d.args[key]
	if !ok {
		return 0
	}
	switch n := raw.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			d.fail(key, raw, "number")
			return 0
		}
		return f
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	d.fail(key, raw, "number")
	return 0
}

func (d *argDecoder) optF64(key string) *float64 {
	if !d.has(key) {
		return nil
	}
	return ptr(d.f64(key))
}

func (d *argDecoder) boolean(key string) bool {
	raw, ok := d.args[key]
	if !ok {
		return false
	}
	b, ok := raw.(bool)
	if !ok {
		d.fail(key, raw, "bool")
		return false
	}
	return b
}

func (d *argDecoder) at(key string) time.Time {
	if raw, ok := d.args[key].(time.Time); ok {
		return raw.UTC()
	}
	s := d.str(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if d.err == nil {
			d.err = fmt.Errorf("arg %q: %w", key, err)
		}
		return time.Time{}
	}
	return t
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

func ptr[T any](v T) *T { return &v }
