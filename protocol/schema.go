package protocol

import "github.com/invopop/jsonschema"

// Messages 汇总所有线路消息，用于生成 JSON Schema
type Messages struct {
	Input       *Input       `json:"input,omitempty"`
	Ack         *Ack         `json:"ack,omitempty"`
	Ready       *Ready       `json:"ready,omitempty"`
	Welcome     *Welcome     `json:"welcome,omitempty"`
	GameState   *GameState   `json:"game_state,omitempty"`
	PlayerDeath *PlayerDeath `json:"player_death,omitempty"`
	GameEnded   *GameEnded   `json:"game_ended,omitempty"`
	Error       *Error       `json:"error,omitempty"`
}

func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(Messages))
	schema.Title = "Crossfire wire protocol"
	schema.Description = "Payloads carried in the p field of each {t, p} envelope"
	return schema
}
