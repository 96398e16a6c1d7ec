// Package mapper converts raw transport payloads into the canonical sensor
// model. Mapping is a pure function over static per-transport tables: fields
// missing from a table are dropped (deliberate allow-list), zero readings are
// emitted like any other value.
package mapper

import (
	"encoding/json"
	"fmt"
	"math"

	"fleetlink/internal/domain"
	"fleetlink/internal/transport"
)

// Normalize maps a raw device payload into canonical sensors for the given
// transport kind. Idempotent and stateless; unknown fields are not forwarded.
func Normalize(kind transport.Kind, raw domain.RawPayload) map[string]interface{} {
	return apply(tableFor(kind), raw)
}

// NormalizeBattery maps a raw battery payload. The payload groups one nested
// field map per battery unit under its raw battery key; scalar fields at the
// top level are ignored.
func NormalizeBattery(raw domain.RawPayload) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	rules := batteryRules()
	for rawKey, value := range raw {
		fields, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		out[rawKey] = apply(rules, fields)
	}
	return out
}

// NormalizeStation maps a raw station payload into canonical plant fields.
func NormalizeStation(raw domain.RawPayload) map[string]interface{} {
	return apply(stationRules(), raw)
}

func tableFor(kind transport.Kind) map[string]fieldRule {
	switch kind {
	case transport.KindModbus:
		return modbusRules()
	case transport.KindDongle:
		return dongleRules()
	default:
		merged := make(map[string]fieldRule)
		for raw, rule := range httpRuntimeRules() {
			merged[raw] = rule
		}
		for raw, rule := range httpEnergyRules() {
			merged[raw] = rule
		}
		for raw, rule := range httpMidboxRules() {
			merged[raw] = rule
		}
		return merged
	}
}

func apply(rules map[string]fieldRule, raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for rawKey, value := range raw {
		rule, ok := rules[rawKey]
		if !ok {
			continue
		}

		switch rule.Op {
		case opIdentity:
			if s, ok := value.(string); ok {
				out[rule.Key] = s
				continue
			}
			if f := toFloat64(value); f != nil {
				out[rule.Key] = *f
			}
		case opDiv10:
			if f := toFloat64(value); f != nil {
				out[rule.Key] = *f / 10
			}
		case opDiv100:
			if f := toFloat64(value); f != nil {
				out[rule.Key] = *f / 100
			}
		case opEnum:
			f := toFloat64(value)
			if f == nil {
				continue
			}
			code := int(math.Round(*f))
			if label, ok := rule.Enum[code]; ok {
				out[rule.Key] = label
			} else {
				out[rule.Key] = fmt.Sprintf("Unknown (%d)", code)
			}
		}
	}
	return out
}

// toFloat64 converts any numeric type to float64
func toFloat64(value interface{}) *float64 {
	var result float64

	switch v := value.(type) {
	case int:
		result = float64(v)
	case int32:
		result = float64(v)
	case int64:
		result = float64(v)
	case uint16:
		result = float64(v)
	case uint32:
		result = float64(v)
	case float32:
		result = float64(v)
	case float64:
		result = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil
		}
		result = f
	default:
		return nil
	}

	return &result
}
