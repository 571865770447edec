// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// =============================================================================
// FUNCTION IDENTIFIERS
// =============================================================================

// ID identifies one function of the closed set.
type ID int

const (
	Unknown ID = iota
	ControlLight
	SetThermostat
	PlayMusic
	SetAlarm
	SendMessage
	GetWeather
	CreateReminder
	ControlTV
	LockDoor
	OrderFood
)

var names = map[ID]string{
	ControlLight:   "control_light",
	SetThermostat:  "set_thermostat",
	PlayMusic:      "play_music",
	SetAlarm:       "set_alarm",
	SendMessage:    "send_message",
	GetWeather:     "get_weather",
	CreateReminder: "create_reminder",
	ControlTV:      "control_tv",
	LockDoor:       "lock_door",
	OrderFood:      "order_food",
}

// String returns the wire name of the function.
func (id ID) String() string {
	if n, ok := names[id]; ok {
		return n
	}
	return "unknown"
}

// Lookup resolves a wire name to an ID.
func Lookup(name string) (ID, bool) {
	name = strings.TrimSpace(name)
	for id, n := range names {
		if n == name {
			return id, true
		}
	}
	return Unknown, false
}

// =============================================================================
// ARGUMENT TYPES
// =============================================================================

// ControlLightArgs are the arguments of control_light.
type ControlLightArgs struct {
	Action string `json:"action" jsonschema:"on, off or dim"`
	Room   string `json:"room" jsonschema:"room name"`
}

// SetThermostatArgs are the arguments of set_thermostat.
type SetThermostatArgs struct {
	Temperature string `json:"temperature" jsonschema:"target temperature as a number"`
	Unit        string `json:"unit,omitempty" jsonschema:"celsius or fahrenheit"`
}

// PlayMusicArgs are the arguments of play_music.
type PlayMusicArgs struct {
	Query  string `json:"query" jsonschema:"song, artist or genre"`
	Source string `json:"source,omitempty" jsonschema:"spotify or youtube"`
}

// SetAlarmArgs are the arguments of set_alarm.
type SetAlarmArgs struct {
	Time  string `json:"time" jsonschema:"time of day such as 7 AM or 06:30"`
	Label string `json:"label,omitempty" jsonschema:"alarm label"`
	Date  string `json:"date,omitempty" jsonschema:"day of the alarm such as today or tomorrow or YYYY-MM-DD"`
}

// SendMessageArgs are the arguments of send_message.
type SendMessageArgs struct {
	Recipient string `json:"recipient" jsonschema:"contact name"`
	Message   string `json:"message" jsonschema:"text to send"`
}

// GetWeatherArgs are the arguments of get_weather.
type GetWeatherArgs struct {
	Location string `json:"location" jsonschema:"city name"`
	Date     string `json:"date,omitempty" jsonschema:"day of the forecast such as today or tomorrow"`
}

// CreateReminderArgs are the arguments of create_reminder.
type CreateReminderArgs struct {
	Task string `json:"task" jsonschema:"what to remind about"`
	Time string `json:"time,omitempty" jsonschema:"time of day"`
	Date string `json:"date,omitempty" jsonschema:"day of the reminder such as today or tomorrow or YYYY-MM-DD"`
}

// ControlTVArgs are the arguments of control_tv.
type ControlTVArgs struct {
	Action string `json:"action" jsonschema:"on, off, channel, volume or mute"`
	Value  string `json:"value,omitempty" jsonschema:"channel name or volume level"`
}

// LockDoorArgs are the arguments of lock_door.
type LockDoorArgs struct {
	Door   string `json:"door" jsonschema:"which door"`
	Action string `json:"action" jsonschema:"lock or unlock"`
}

// OrderFoodArgs are the arguments of order_food.
type OrderFoodArgs struct {
	Restaurant string `json:"restaurant" jsonschema:"restaurant name"`
	Items      string `json:"items" jsonschema:"what to order"`
}

// =============================================================================
// DEFINITIONS
// =============================================================================

// Param describes one argument for the classifier prompt.
type Param struct {
	Name        string
	Description string
	Type        string
	Required    bool
}

// Definition is the static description of one function.
type Definition struct {
	ID          ID
	Name        string
	Description string
	Params      []Param
	Schema      *jsonschema.Schema

	resolved *jsonschema.Resolved
}

// Required returns the names of required parameters in declaration order.
func (d *Definition) Required() []string {
	var out []string
	for _, p := range d.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

var definitions = []*Definition{
	mustDefine[ControlLightArgs](ControlLight, "Controls smart lights"),
	mustDefine[SetThermostatArgs](SetThermostat, "Sets the thermostat temperature"),
	mustDefine[PlayMusicArgs](PlayMusic, "Plays music"),
	mustDefine[SetAlarmArgs](SetAlarm, "Sets an alarm"),
	mustDefine[SendMessageArgs](SendMessage, "Sends a text message"),
	mustDefine[GetWeatherArgs](GetWeather, "Gets the weather forecast"),
	mustDefine[CreateReminderArgs](CreateReminder, "Creates a reminder"),
	mustDefine[ControlTVArgs](ControlTV, "Controls the TV"),
	mustDefine[LockDoorArgs](LockDoor, "Controls door locks"),
	mustDefine[OrderFoodArgs](OrderFood, "Orders food for delivery"),
}

// Definitions returns every function in declaration order.
func Definitions() []*Definition {
	out := make([]*Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Get returns the definition of id.
func Get(id ID) (*Definition, bool) {
	for _, d := range definitions {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

// mustDefine derives the schema of an argument struct. The argument types
// are static, so a failure here is a programming error.
func mustDefine[A any](id ID, description string) *Definition {
	schema, err := jsonschema.For[A](nil)
	if err != nil {
		panic(fmt.Sprintf("functions: schema for %s: %v", id, err))
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("functions: resolve schema for %s: %v", id, err))
	}

	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	def := &Definition{
		ID:          id,
		Name:        id.String(),
		Description: description,
		Schema:      schema,
		resolved:    resolved,
	}
	for _, name := range schema.PropertyOrder {
		prop := schema.Properties[name]
		def.Params = append(def.Params, Param{
			Name:        name,
			Description: prop.Description,
			Type:        strings.ToUpper(prop.Type),
			Required:    required[name],
		})
	}
	return def
}
