// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/murmur/internal/logging"
)

// Executor validates arguments and dispatches calls to collaborators.
// It holds no mutable state besides the dispatch table, so it is safe for
// concurrent use.
type Executor struct {
	svc    Services
	now    func() time.Time
	logger zerolog.Logger
}

// NewExecutor creates an executor over the given collaborators.
func NewExecutor(svc Services) *Executor {
	return &Executor{
		svc:    svc,
		now:    time.Now,
		logger: logging.For("functions"),
	}
}

// WithClock returns a copy of the executor that normalizes dates against now.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	cp := *e
	cp.now = now
	return &cp
}

// Execute runs the named function. It fails with *ValidationError when the
// name is unknown or arguments are missing, untypeable or unparseable, and
// with *ExecutionError when the collaborator fails.
func (e *Executor) Execute(ctx context.Context, name string, raw map[string]any) (string, error) {
	id, ok := Lookup(name)
	if !ok {
		return "", &ValidationError{Function: name, Message: "not a known function", Cause: ErrUnknownFunction}
	}
	def, _ := Get(id)

	fields, err := e.prepare(def, raw)
	if err != nil {
		return "", err
	}

	start := time.Now()
	result, err := e.dispatch(ctx, id, fields)
	if err != nil {
		if IsValidation(err) {
			return "", err
		}
		e.logger.Warn().Str("function", def.Name).Err(err).Msg("action failed")
		return "", &ExecutionError{Function: def.Name, Cause: err}
	}

	result = strings.TrimSpace(result)
	if result == "" {
		result = "Done."
	}
	e.logger.Debug().Str("function", def.Name).Dur("took", time.Since(start)).Msg("executed")
	return result, nil
}

// =============================================================================
// ARGUMENT PREPARATION
// =============================================================================

// prepare coerces raw values to strings, drops unknown keys and validates
// the result against the function schema.
func (e *Executor) prepare(def *Definition, raw map[string]any) (map[string]any, error) {
	known := make(map[string]bool, len(def.Params))
	for _, p := range def.Params {
		known[p.Name] = true
	}

	fields := make(map[string]any, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !known[k] {
			e.logger.Debug().Str("function", def.Name).Str("arg", k).Msg("dropping unknown argument")
			continue
		}
		s, ok := stringify(raw[k])
		if !ok {
			return nil, &ValidationError{Function: def.Name, Field: k, Message: fmt.Sprintf("unsupported value type %T", raw[k])}
		}
		if strings.TrimSpace(s) == "" {
			continue
		}
		fields[k] = strings.TrimSpace(s)
	}

	for _, name := range def.Required() {
		if _, ok := fields[name]; !ok {
			return nil, &ValidationError{Function: def.Name, Field: name, Message: "missing required argument"}
		}
	}

	if err := def.resolved.Validate(fields); err != nil {
		return nil, &ValidationError{Function: def.Name, Message: err.Error(), Cause: err}
	}
	return fields, nil
}

// stringify renders scalar JSON values as text. Lists of scalars are joined
// with commas; other composites are rejected.
func stringify(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", true
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case json.Number:
		return x.String(), true
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := stringify(item)
			if !ok {
				return "", false
			}
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), true
	}
	return "", false
}

// decode converts validated fields into a typed argument struct.
func decode[A any](fields map[string]any) (A, error) {
	var args A
	data, err := json.Marshal(fields)
	if err != nil {
		return args, err
	}
	err = json.Unmarshal(data, &args)
	return args, err
}

// =============================================================================
// DISPATCH
// =============================================================================

func (e *Executor) dispatch(ctx context.Context, id ID, fields map[string]any) (string, error) {
	switch id {
	case ControlLight:
		return run(fields, func(a ControlLightArgs) (string, error) {
			action, err := choice(id, "action", a.Action, lightActions)
			if err != nil {
				return "", err
			}
			if e.svc.Lights == nil {
				return "", ErrNotConfigured
			}
			return e.svc.Lights.SetLight(ctx, a.Room, action)
		})

	case SetThermostat:
		return run(fields, func(a SetThermostatArgs) (string, error) {
			value, unit, err := temperature(a.Temperature, a.Unit)
			if err != nil {
				return "", err
			}
			if e.svc.Thermostat == nil {
				return "", ErrNotConfigured
			}
			return e.svc.Thermostat.SetTemperature(ctx, value, unit)
		})

	case PlayMusic:
		return run(fields, func(a PlayMusicArgs) (string, error) {
			if e.svc.Media == nil {
				return "", ErrNotConfigured
			}
			return e.svc.Media.PlayMusic(ctx, a.Query, strings.ToLower(a.Source))
		})

	case SetAlarm:
		return run(fields, func(a SetAlarmArgs) (string, error) {
			now := e.now()
			clock, err := NormalizeClock(a.Time, now)
			if err != nil {
				return "", &ValidationError{Function: id.String(), Field: "time", Message: err.Error(), Cause: err}
			}
			date := now.Format(dateLayout)
			if a.Date != "" {
				if date, err = e.date(id, a.Date); err != nil {
					return "", err
				}
			}
			if e.svc.Alarms == nil {
				return "", ErrNotConfigured
			}
			return e.svc.Alarms.SetAlarm(ctx, clock, date, a.Label)
		})

	case SendMessage:
		return run(fields, func(a SendMessageArgs) (string, error) {
			if e.svc.Messenger == nil {
				return "", ErrNotConfigured
			}
			return e.svc.Messenger.SendMessage(ctx, a.Recipient, a.Message)
		})

	case GetWeather:
		return run(fields, func(a GetWeatherArgs) (string, error) {
			date := e.now().Format(dateLayout)
			if a.Date != "" {
				var err error
				if date, err = e.date(id, a.Date); err != nil {
					return "", err
				}
			}
			if e.svc.Weather == nil {
				return "", ErrNotConfigured
			}
			return e.svc.Weather.Forecast(ctx, a.Location, date)
		})

	case CreateReminder:
		return run(fields, func(a CreateReminderArgs) (string, error) {
			var clock, date string
			var err error
			if a.Time != "" {
				if clock, err = NormalizeClock(a.Time, e.now()); err != nil {
					return "", &ValidationError{Function: id.String(), Field: "time", Message: err.Error(), Cause: err}
				}
			}
			if a.Date != "" {
				if date, err = e.date(id, a.Date); err != nil {
					return "", err
				}
			}
			if e.svc.Reminders == nil {
				return "", ErrNotConfigured
			}
			return e.svc.Reminders.CreateReminder(ctx, a.Task, clock, date)
		})

	case ControlTV:
		return run(fields, func(a ControlTVArgs) (string, error) {
			action, err := choice(id, "action", a.Action, tvActions)
			if err != nil {
				return "", err
			}
			if e.svc.Media == nil {
				return "", ErrNotConfigured
			}
			return e.svc.Media.ControlTV(ctx, action, a.Value)
		})

	case LockDoor:
		return run(fields, func(a LockDoorArgs) (string, error) {
			action, err := choice(id, "action", a.Action, lockActions)
			if err != nil {
				return "", err
			}
			if e.svc.Locks == nil {
				return "", ErrNotConfigured
			}
			return e.svc.Locks.SetLock(ctx, a.Door, action == "lock")
		})

	case OrderFood:
		return run(fields, func(a OrderFoodArgs) (string, error) {
			if e.svc.Food == nil {
				return "", ErrNotConfigured
			}
			return e.svc.Food.OrderFood(ctx, a.Restaurant, a.Items)
		})
	}
	return "", &ValidationError{Function: id.String(), Message: "no handler", Cause: ErrUnknownFunction}
}

// run decodes fields into A and calls fn.
func run[A any](fields map[string]any, fn func(A) (string, error)) (string, error) {
	args, err := decode[A](fields)
	if err != nil {
		return "", err
	}
	return fn(args)
}

func (e *Executor) date(id ID, input string) (string, error) {
	d, err := NormalizeDate(input, e.now())
	if err != nil {
		return "", &ValidationError{Function: id.String(), Field: "date", Message: err.Error(), Cause: err}
	}
	return d, nil
}

// =============================================================================
// VALUE NORMALIZATION
// =============================================================================

var (
	lightActions = map[string]string{
		"on": "on", "turn on": "on", "switch on": "on",
		"off": "off", "turn off": "off", "switch off": "off",
		"dim": "dim", "dim down": "dim",
	}
	tvActions = map[string]string{
		"on": "on", "turn on": "on",
		"off": "off", "turn off": "off",
		"channel": "channel", "change channel": "channel",
		"volume": "volume", "set volume": "volume",
		"mute": "mute", "unmute": "unmute",
	}
	lockActions = map[string]string{
		"lock": "lock", "locked": "lock",
		"unlock": "unlock", "unlocked": "unlock",
	}
)

func choice(id ID, field, value string, allowed map[string]string) (string, error) {
	if v, ok := allowed[strings.ToLower(strings.TrimSpace(value))]; ok {
		return v, nil
	}
	return "", &ValidationError{Function: id.String(), Field: field, Message: fmt.Sprintf("unsupported value %q", value)}
}

// temperature parses a thermostat value such as "72", "21.5" or "68 degrees"
// and resolves the unit, defaulting to fahrenheit.
func temperature(value, unit string) (float64, string, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, suffix := range []string{"degrees", "degree", "°f", "°c", "°"} {
		v = strings.TrimSpace(strings.TrimSuffix(v, suffix))
	}
	t, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, "", &ValidationError{Function: SetThermostat.String(), Field: "temperature", Message: fmt.Sprintf("not a number: %q", value)}
	}

	switch u := strings.ToLower(strings.TrimSpace(unit)); u {
	case "", "f", "fahrenheit", "°f":
		unit = "fahrenheit"
	case "c", "celsius", "°c", "centigrade":
		unit = "celsius"
	default:
		return 0, "", &ValidationError{Function: SetThermostat.String(), Field: "unit", Message: fmt.Sprintf("unsupported unit %q", unit)}
	}

	lo, hi := 40.0, 95.0
	if unit == "celsius" {
		lo, hi = 5, 35
	}
	if t < lo || t > hi {
		return 0, "", &ValidationError{Function: SetThermostat.String(), Field: "temperature", Message: fmt.Sprintf("%g is outside %g-%g %s", t, lo, hi, unit)}
	}
	return t, unit, nil
}
