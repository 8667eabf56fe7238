package circadian

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/motionlightd/internal/entity"
)

// scriptFunction is the global a curve script must define.
const scriptFunction = "brightness"

// ScriptCurve evaluates a user supplied Lua curve:
//
//	function brightness(hour, up, down, gain) return 100 end
//
// The Lua state is not safe for concurrent use; callers must evaluate it
// from the controller worker only.
type ScriptCurve struct {
	L        *lua.LState
	path     string
	fallback Curve
}

// LoadScript loads path and checks that it defines brightness().
func LoadScript(path string, fallback Curve) (*ScriptCurve, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute curve script: %w", err)
	}
	if _, ok := L.GetGlobal(scriptFunction).(*lua.LFunction); !ok {
		L.Close()
		return nil, fmt.Errorf("curve script %s does not define %s()", path, scriptFunction)
	}
	if fallback == nil {
		fallback = Default
	}

	log.Info().Str("path", path).Msg("Brightness curve script loaded")
	return &ScriptCurve{L: L, path: path, fallback: fallback}, nil
}

// Target implements Curve. Script errors fall back to the built-in curve.
func (s *ScriptCurve) Target(hour, up, down, gain float64) int {
	v, err := s.call(hour, up, down, gain)
	if err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("Curve script failed, using built-in curve")
		return s.fallback.Target(hour, up, down, gain)
	}
	return v
}

func (s *ScriptCurve) call(hour, up, down, gain float64) (int, error) {
	err := s.L.CallByParam(lua.P{
		Fn:      s.L.GetGlobal(scriptFunction),
		NRet:    1,
		Protect: true,
	}, lua.LNumber(hour), lua.LNumber(up), lua.LNumber(down), lua.LNumber(gain))
	if err != nil {
		return 0, err
	}

	ret := s.L.Get(-1)
	s.L.Pop(1)

	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("%s() returned %s, want number", scriptFunction, ret.Type())
	}
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s() returned %v", scriptFunction, f)
	}
	return entity.ClampBrightness(int(math.Round(f))), nil
}

// Close releases the Lua state.
func (s *ScriptCurve) Close() {
	s.L.Close()
}
