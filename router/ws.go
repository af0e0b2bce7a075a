package router

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Push channels are opened by AE clients, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// openPushChannel upgrades the request and hands the connection to the
// registry. The handler blocks for the lifetime of the channel.
func openPushChannel(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aet := r.PathValue("aet")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Log.Warn().Err(err).Str("ae_title", aet).Msg("push channel upgrade failed")
			return
		}
		d.Conns.Accept(conn, aet)
	}
}
