package audio

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"voicekit/internal/domain"
)

const defaultSink = "@DEFAULT_SINK@"

var percentPattern = regexp.MustCompile(`(\d+)%`)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// PulseVolume implements ports.VolumeController with pactl. Each logical
// stream maps to a sink; unmapped streams use the default sink.
type PulseVolume struct {
	command string
	sinks   map[domain.AudioStream]string
	run     commandRunner
}

func NewPulseVolume(command string, sinks map[domain.AudioStream]string) *PulseVolume {
	if command == "" {
		command = "pactl"
	}
	return &PulseVolume{command: command, sinks: sinks, run: execRunner}
}

func (p *PulseVolume) StreamVolume(ctx context.Context, stream domain.AudioStream) (int, error) {
	out, err := p.run(ctx, p.command, "get-sink-volume", p.sink(stream))
	if err != nil {
		return 0, err
	}
	return parseVolume(string(out))
}

func (p *PulseVolume) SetStreamVolume(ctx context.Context, stream domain.AudioStream, volume int) error {
	if volume < 0 {
		volume = 0
	}
	_, err := p.run(ctx, p.command, "set-sink-volume", p.sink(stream), strconv.Itoa(volume)+"%")
	return err
}

func (p *PulseVolume) sink(stream domain.AudioStream) string {
	if sink := strings.TrimSpace(p.sinks[stream]); sink != "" {
		return sink
	}
	return defaultSink
}

// parseVolume reads the first channel percentage from pactl output such as
// "Volume: front-left: 39321 /  60% / -13.31 dB, ...".
func parseVolume(output string) (int, error) {
	match := percentPattern.FindStringSubmatch(output)
	if match == nil {
		return 0, fmt.Errorf("no volume in pactl output %q", strings.TrimSpace(output))
	}
	return strconv.Atoi(match[1])
}
