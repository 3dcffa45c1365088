package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleEvents upgrades the request and streams ledger events to it until
// the connection closes. The optional identity query parameter narrows the
// feed to one account. originPatterns lists extra allowed origin hosts.
func HandleEvents(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.Warn("accept websocket", "error", err, "remote", r.RemoteAddr)
			return
		}
		defer conn.CloseNow()

		identity := r.URL.Query().Get("identity")
		hub.logger.Debug("feed client connected", "remote", r.RemoteAddr, "identity", identity)
		NewClient(hub, conn, identity).Run(r.Context())
		conn.Close(ws.StatusNormalClosure, "")
	}
}
