package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/sp3ctra/sp3ctra"
	"github.com/sp3ctra/sp3ctra/internal/config"
)

var errQuit = errors.New("quit")

type command struct {
	name  string
	arity int // negative means "at least -arity"
	usage string
	run   func(e *sp3ctra.Engine, args []string) error
}

var commands = []command{
	{"noteon", -1, "noteon <note> [velocity]", cmdNoteOn},
	{"noteoff", 1, "noteoff <note>", cmdNoteOff},
	{"cc", 2, "cc <controller> <value>", cmdCC},
	{"freeze", 0, "freeze", func(e *sp3ctra.Engine, _ []string) error { e.SetFreeze(true); return nil }},
	{"unfreeze", 0, "unfreeze", func(e *sp3ctra.Engine, _ []string) error { e.SetFreeze(false); return nil }},
	{"mix", 3, "mix <additive> <polyphonic> <wavetable>", cmdMix},
	{"volume", 1, "volume <0..2>", cmdVolume},
	{"reverb", -1, "reverb on|off | reverb <mix|room|damp|width> <0..1>", cmdReverb},
	{"adsr", 5, "adsr <vol|filt> <attack> <decay> <sustain> <release>", cmdADSR},
	{"stats", 0, "stats", cmdStats},
	{"help", 0, "help", cmdHelp},
	{"quit", 0, "quit", func(*sp3ctra.Engine, []string) error { return errQuit }},
}

func repl(ctx context.Context, engine *sp3ctra.Engine) error {
	rl, err := readline.New("sp3ctra> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			fmt.Println(err)
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := eval(engine, fields[0], fields[1:]); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Println(err)
		}
	}
}

func eval(engine *sp3ctra.Engine, name string, args []string) error {
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if cmd.arity < 0 {
			if len(args) < -cmd.arity {
				return fmt.Errorf("usage: %s", cmd.usage)
			}
		} else if len(args) != cmd.arity {
			return fmt.Errorf("usage: %s", cmd.usage)
		}
		return cmd.run(engine, args)
	}
	return fmt.Errorf("unknown command %q, try 'help'", name)
}

func intArg(s string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", v, lo, hi)
	}
	return v, nil
}

func floatArg(s string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%g out of range [%g, %g]", v, lo, hi)
	}
	return v, nil
}

func cmdNoteOn(e *sp3ctra.Engine, args []string) error {
	note, err := intArg(args[0], 0, 127)
	if err != nil {
		return err
	}
	velocity := 100
	if len(args) > 1 {
		if velocity, err = intArg(args[1], 0, 127); err != nil {
			return err
		}
	}
	e.NoteOn(note, velocity)
	return nil
}

func cmdNoteOff(e *sp3ctra.Engine, args []string) error {
	note, err := intArg(args[0], 0, 127)
	if err != nil {
		return err
	}
	e.NoteOff(note)
	return nil
}

func cmdCC(e *sp3ctra.Engine, args []string) error {
	cc, err := intArg(args[0], 0, 127)
	if err != nil {
		return err
	}
	value, err := intArg(args[1], 0, 127)
	if err != nil {
		return err
	}
	e.ControlChange(cc, value)
	return nil
}

func cmdMix(e *sp3ctra.Engine, args []string) error {
	var levels [3]float64
	for i, a := range args {
		v, err := floatArg(a, 0, 2)
		if err != nil {
			return err
		}
		levels[i] = v
	}
	e.SetMixLevels(float32(levels[0]), float32(levels[1]), float32(levels[2]))
	return nil
}

func cmdVolume(e *sp3ctra.Engine, args []string) error {
	v, err := floatArg(args[0], 0, 2)
	if err != nil {
		return err
	}
	e.SetMasterVolume(float32(v))
	return nil
}

func cmdReverb(e *sp3ctra.Engine, args []string) error {
	switch args[0] {
	case "on":
		e.SetReverbEnabled(true)
		return nil
	case "off":
		e.SetReverbEnabled(false)
		return nil
	}
	if len(args) != 2 {
		return errors.New("usage: reverb on|off | reverb <mix|room|damp|width> <0..1>")
	}
	v, err := floatArg(args[1], 0, 1)
	if err != nil {
		return err
	}
	switch args[0] {
	case "mix":
		e.SetReverbMix(float32(v))
	case "room":
		e.SetReverbRoomSize(float32(v))
	case "damp":
		e.SetReverbDamping(float32(v))
	case "width":
		e.SetReverbWidth(float32(v))
	default:
		return fmt.Errorf("unknown reverb parameter %q", args[0])
	}
	return nil
}

func cmdADSR(e *sp3ctra.Engine, args []string) error {
	attack, err := floatArg(args[1], 0, 30)
	if err != nil {
		return err
	}
	decay, err := floatArg(args[2], 0, 30)
	if err != nil {
		return err
	}
	sustain, err := floatArg(args[3], 0, 1)
	if err != nil {
		return err
	}
	release, err := floatArg(args[4], 0, 30)
	if err != nil {
		return err
	}
	a := config.ADSR{AttackS: attack, DecayS: decay, Sustain: sustain, ReleaseS: release}
	switch args[0] {
	case "vol":
		e.SetVolumeADSR(a)
	case "filt":
		e.SetFilterADSR(a)
	default:
		return fmt.Errorf("unknown envelope %q, want vol or filt", args[0])
	}
	return nil
}

func cmdStats(e *sp3ctra.Engine, _ []string) error {
	s := e.Snapshot()
	fmt.Printf("lines: %d complete, %d abandoned\n", s.LinesComplete, s.LinesAbandoned)
	fmt.Printf("underruns: additive %d, polyphonic %d, wavetable %d\n",
		s.UnderrunsAdditive, s.UnderrunsPolyphonic, s.UnderrunsWavetable)
	fmt.Printf("log drops: %d, master volume: %.2f, frozen: %v\n",
		s.LogDropped, s.MasterVolume, e.Frozen())
	return nil
}

func cmdHelp(*sp3ctra.Engine, []string) error {
	for _, cmd := range commands {
		fmt.Println("  " + cmd.usage)
	}
	return nil
}
