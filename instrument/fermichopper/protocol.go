package fermichopper

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/arloliu/go-labemu/pattern"
	"github.com/arloliu/go-labemu/stream"
)

const (
	hexWord     = `[0-9A-F]{4}`
	hexChecksum = `[0-9A-F]{2}`
)

// legacyFrames is the status block reported by the legacy controller after
// the "#1" echo of the last command.
var legacyFrames = []string{
	"#2003F", "#30006", "#4464F", "#55208", "#60000", "#75209", "#80000", "#9002A",
	"#A01EB", "#B01F0", "#C01F9", "#D01FB", "#E020C", "#F0296", "#G0198", "#H0176",
}

func (e *Emulator) wireOptions() []stream.Option {
	// failures are answered with the error text, as the controller firmware does
	onError := stream.WithErrorHandler(func(_ string, err error) stream.Reply {
		return stream.Text(err.Error())
	})

	if e.variant == Legacy {
		return []stream.Option{
			stream.WithInTerminator("\n"),
			stream.WithOutTerminator("\n"),
			onError,
		}
	}

	return []stream.Option{
		stream.WithInTerminator("$"),
		stream.WithOutTerminator(""),
		onError,
	}
}

// frame builds the pattern of a "#<header><word><checksum>" request.
func (e *Emulator) frame(name, header string) *pattern.Builder {
	b := pattern.New(name).Escape("#" + header).Arg(hexWord, nil).Arg(hexChecksum, nil)
	if e.variant == Legacy {
		b = b.Escape("$")
	}

	return b.EOS()
}

func (e *Emulator) mapsCommands() []stream.Command {
	return []stream.Command{
		stream.Bind(e.pollPattern(), e.getAllData),
		stream.Bind(e.frame("execute_command", "1").MustBuild(), e.wordHandler("1", e.execute)),
		stream.Bind(e.frame("set_speed", "3").MustBuild(), e.wordHandler("3", func(word string) error {
			v, err := parseWord(word)
			if err != nil {
				return err
			}
			e.setpoint = v / 60

			return nil
		})),
		stream.Bind(e.frame("set_delay_lowword", "5").MustBuild(), e.wordHandler("5", e.setWord(&e.delayLow))),
		stream.Bind(e.frame("set_delay_highword", "6").MustBuild(), e.wordHandler("6", e.setWord(&e.delayHigh))),
		stream.Bind(e.frame("set_gate_width", "9").MustBuild(), e.wordHandler("9", e.setWord(&e.gateWidth))),
	}
}

func (e *Emulator) legacyCommands() []stream.Command {
	return []stream.Command{
		stream.Bind(e.pollPattern(), e.getAllData),
		stream.Bind(e.frame("execute_command", "1").MustBuild(), e.wordHandler("1", e.execute)),
	}
}

// pollPattern matches the status poll "#00000<checksum>".
func (e *Emulator) pollPattern() *pattern.Pattern {
	b := pattern.New("get_all_data").Escape("#00000").Arg(hexChecksum, nil)
	if e.variant == Legacy {
		b = b.Escape("$")
	}

	return b.EOS().MustBuild()
}

// wordHandler verifies the checksum of a "#<header><word>" request before
// passing the word to apply.
func (e *Emulator) wordHandler(header string, apply func(word string) error) stream.HandlerFunc {
	return func(args pattern.Args) (stream.Reply, error) {
		word, sum := args.String(0), args.String(1)
		if err := e.codec.Verify("#"+header, word, sum); err != nil {
			return stream.NoReply, err
		}

		return stream.NoReply, apply(word)
	}
}

func (e *Emulator) setWord(p *int) func(word string) error {
	return func(word string) error {
		v, err := parseWord(word)
		if err != nil {
			return err
		}
		*p = v

		return nil
	}
}

func (e *Emulator) getAllData(args pattern.Args) (stream.Reply, error) {
	if err := e.codec.Verify("#0", "0000", args.String(0)); err != nil {
		return stream.NoReply, err
	}

	frames := []string{"#1" + e.lastCommand}
	if e.variant == Legacy {
		frames = append(frames, legacyFrames...)
	} else {
		frames = append(frames, e.statusFrames()...)
	}

	var sb strings.Builder
	for _, f := range frames {
		framed, err := e.codec.Append(f)
		if err != nil {
			return stream.NoReply, err
		}
		sb.WriteString(framed)
	}
	if e.variant == Maps {
		sb.WriteString("$")
	}

	return stream.Text(sb.String()), nil
}

func (e *Emulator) statusFrames() []string {
	autozero := func(v float64) float64 { return (v + 7.0) / 0.0137 }
	nominal := e.nominalDelay() * TimingFreqMHz
	actual := e.actualDelay() * TimingFreqMHz

	return []string{
		"#2" + word(float64(e.statusWord())),
		"#3" + word(float64(e.setpoint*60)),
		"#4" + word(e.speed*60),
		"#5" + word(math.Mod(nominal, 65536)),
		"#6" + word(nominal / 65536),
		"#7" + word(math.Mod(actual, 65536)),
		"#8" + word(actual / 65536),
		"#9" + word(float64(e.gateWidth)),
		"#A" + word(e.current()/0.00684),
		"#B" + word(autozero(e.autozero1Upper)),
		"#C" + word(autozero(e.autozero2Upper)),
		"#D" + word(autozero(e.autozero1Lower)),
		"#E" + word(autozero(e.autozero2Lower)),
	}
}

// word renders v as four uppercase hex digits, clamped to the 16-bit range.
func word(v float64) string {
	n := int64(math.Round(v))
	n = max(0, min(n, 0xFFFF))

	return fmt.Sprintf("%04X", n)
}

func parseWord(s string) (int, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("fermichopper: invalid word %q: %w", s, err)
	}

	return int(v), nil
}
