package afconfig

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// NewLogger builds the process logger from c: stdout always gets a writer
// (pretty console output if LogStdoutPretty and stdout is a terminal,
// otherwise JSON), and LogFile, if set, gets its own JSON writer.
func NewLogger(c *Config) (zerolog.Logger, error) {
	var outputs []io.Writer

	if c.LogStdoutPretty && isatty.IsTerminal(os.Stdout.Fd()) {
		outputs = append(outputs, zerolog.ConsoleWriter{Out: colorable.NewColorableStdout()})
	} else {
		outputs = append(outputs, os.Stdout)
	}

	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file: %w", err)
		}
		outputs = append(outputs, f)
	}

	l := zerolog.New(zerolog.MultiLevelWriter(outputs...)).
		Level(c.LogLevel).
		With().
		Timestamp().
		Logger()
	return l, nil
}
