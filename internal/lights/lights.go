// Package lights drives bluetooth RGB lights from the slots of one sACN
// universe.
package lights

import (
	"bytes"
	"context"
	"errors"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/kpelzel/sacnproxy/internal/config"
	"github.com/kpelzel/sacnproxy/internal/sacn"
)

const colorBacklog = 1000

var ErrUnsupported = errors.New("bluetooth lights are not supported on this platform")

type Color struct {
	Red   byte
	Green byte
	Blue  byte
}

// device is one connected light.
type device interface {
	on() error
	setColor(c Color) error
	disconnect() error
}

type colorUpdate struct {
	light string
	Color
}

// Output fans DMX slot changes out to connected lights. HandleFrame must be
// called from a single goroutine; Run does the (slow) bluetooth writes.
type Output struct {
	conf      map[string]config.Light
	devs      map[string]device
	colorChan chan colorUpdate
	prevValue []byte
}

func newOutput(conf map[string]config.Light, devs map[string]device) *Output {
	return &Output{
		conf:      conf,
		devs:      devs,
		colorChan: make(chan colorUpdate, colorBacklog),
	}
}

// Connect connects to every configured light and turns it on. On failure any
// light already connected is disconnected again.
func Connect(conf map[string]config.Light) (*Output, error) {
	devs, err := connectToLights(conf)
	if err != nil {
		return nil, err
	}
	o := newOutput(conf, devs)
	if err := o.turnOn(); err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

func (o *Output) turnOn() error {
	for _, ln := range o.names() {
		if err := o.devs[ln].on(); err != nil {
			return &LightError{Light: ln, Op: "turn on", Err: err}
		}
	}
	return nil
}

// HandleFrame queues new colours for every light when the slot data changed.
// Alternate start code frames carry no levels and are ignored.
func (o *Output) HandleFrame(f sacn.Frame) {
	if f.StartCode != 0 {
		return
	}
	slots := f.Slots[:f.SlotCount]
	if bytes.Equal(o.prevValue, slots) {
		return
	}
	log.Debugf("new packet different than previous: %v vs %v", o.prevValue, slots)
	o.prevValue = append(o.prevValue[:0], slots...)

	colors := Colors(o.conf, slots)
	for _, ln := range o.names() {
		c := colors[ln]
		log.Debugf("light[%v] color: %+v", ln, c)
		select {
		case o.colorChan <- colorUpdate{light: ln, Color: c}:
		default:
			log.Debug("bluetooth busy, color not sent")
		}
	}
}

// Run writes queued colours until ctx is done.
func (o *Output) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-o.colorChan:
			dev, ok := o.devs[u.light]
			if !ok {
				continue
			}
			if err := dev.setColor(u.Color); err != nil {
				log.Errorf("failed to set color for light[%v]: %v", u.light, err)
			}
		}
	}
}

// Close disconnects every light.
func (o *Output) Close() {
	for ln, d := range o.devs {
		if err := d.disconnect(); err != nil {
			log.Warnf("failed to disconnect light[%v]: %v", ln, err)
		}
	}
}

func (o *Output) names() []string {
	names := make([]string, 0, len(o.devs))
	for ln := range o.devs {
		names = append(names, ln)
	}
	sort.Strings(names)
	return names
}

// Colors maps slot values to each light's colour. Slots past the end of the
// frame read as zero.
func Colors(conf map[string]config.Light, slots []byte) map[string]Color {
	slot := func(i int) byte {
		if i < 0 || i >= len(slots) {
			return 0
		}
		return slots[i]
	}
	out := make(map[string]Color, len(conf))
	for ln, l := range conf {
		out[ln] = Color{
			Red:   slot(l.RedByte),
			Green: slot(l.GreenByte),
			Blue:  slot(l.BlueByte),
		}
	}
	return out
}

type LightError struct {
	Light string
	Op    string
	Err   error
}

func (e *LightError) Error() string {
	return "failed to " + e.Op + " light[" + e.Light + "]: " + e.Err.Error()
}

func (e *LightError) Unwrap() error { return e.Err }
