package callbacks

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// PayloadInt parses callback payload as int.
func PayloadInt(c tele.Context) (int, error) {
	return strconv.Atoi(strings.TrimSpace(CallbackPayload(c)))
}

// PayloadIndex parses an index payload and checks it against n options.
func PayloadIndex(c tele.Context, n int) (int, error) {
	i, err := PayloadInt(c)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= n {
		return 0, strconv.ErrRange
	}
	return i, nil
}
