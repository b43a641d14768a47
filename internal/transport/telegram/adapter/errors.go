package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "chatwarden/internal/transport"
)

// goneErrors mean the chat will not accept messages from the bot again.
var goneErrors = []error{
	tele.ErrChatNotFound,
	tele.ErrBlockedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrKickedFromChannel,
	tele.ErrUserIsDeactivated,
	tele.ErrNotChannelMember,
}

// classify tags permanent delivery failures with kit.ErrDestinationUnreachable
// and leaves everything else as is.
func classify(err error) error {
	if err == nil || !isGone(err) {
		return err
	}
	return fmt.Errorf("%w: %w", kit.ErrDestinationUnreachable, err)
}

func isGone(err error) bool {
	for _, g := range goneErrors {
		if errors.Is(err, g) {
			return true
		}
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		// the old group id is dead after a migration
		return true
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == http.StatusForbidden {
		return true
	}
	return false
}

// isEntityError reports Telegram rejecting the message markup.
func isEntityError(err error) bool {
	var te *tele.Error
	if !errors.As(err, &te) || te.Code != http.StatusBadRequest {
		return false
	}
	d := strings.ToLower(te.Description)
	return strings.Contains(d, "can't parse entities") || strings.Contains(d, "can't find end of the entity")
}
