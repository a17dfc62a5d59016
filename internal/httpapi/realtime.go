package httpapi

import (
	"net/http"

	"qme/internal/notify"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/rs/zerolog/log"
)

// RealtimeHandler serves the SockJS endpoint on prefix. Clients send
// {"action":"subscribe","queue_id":...} frames and receive every event of
// the queues they follow.
func RealtimeHandler(prefix string, hub *notify.Hub, buffer int) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		client := notify.NewClient(uuid.NewString(), buffer)
		hub.Register(client)
		defer hub.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := notify.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == notify.ActionUnsubscribe {
				hub.Unsubscribe(client, parsed.QueueID)
				continue
			}
			if !isValidUUID(parsed.QueueID) {
				_ = session.Close(4000, "invalid queue_id")
				return
			}
			hub.Subscribe(client, parsed.QueueID)
			log.Debug().Str("client_id", client.ID).Str("queue_id", parsed.QueueID).Msg("realtime subscribe")
		}
	})
}
