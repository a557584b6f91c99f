package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"net"
	"net/http"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/delivery"
	kit "remindbot/internal/transport"
)

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// avoid tiny chunks
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// classifySendError tags a telebot error for the delivery retry policy.
// Rate limits, upstream 5xx and network trouble are transient; rejected
// requests (unknown chat, blocked bot, bad request) are permanent.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return delivery.Transient(err)
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return delivery.Transient(err)
	}
	var group tele.GroupError
	if errors.As(err, &group) {
		return delivery.Permanent(err)
	}

	code := 0
	var api *tele.Error
	if errors.As(err, &api) {
		code = api.Code
	} else {
		code = trailingCode(err.Error())
	}
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return delivery.Transient(err)
	case code >= 400:
		return delivery.Permanent(err)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return delivery.Transient(err)
	}
	return delivery.Permanent(err)
}

// trailingCode reads the "(502)" suffix telebot puts on API errors it has
// no sentinel for.
func trailingCode(msg string) int {
	msg = strings.TrimSpace(msg)
	if !strings.HasSuffix(msg, ")") {
		return 0
	}
	i := strings.LastIndex(msg, "(")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(msg[i+1 : len(msg)-1])
	if err != nil {
		return 0
	}
	return n
}

func menuHash(cmds []kit.BotCommand) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	return h.Sum64()
}
