package hostmux

import (
	"io"
	"strconv"

	"github.com/rs/zerolog"
)

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func itoa(port uint16) string {
	return strconv.Itoa(int(port))
}
