package ledrails

import "net/http"

type networkHealth struct {
	ID          string `json:"id"`
	LastSuccess int64  `json:"last_success_epoch"`
}

type healthResponse struct {
	Status   string          `json:"status"`
	Networks []networkHealth `json:"networks"`
}

func handleHealth(networks []*Network) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		for _, n := range networks {
			resp.Networks = append(resp.Networks, networkHealth{
				ID:          n.ID,
				LastSuccess: n.LastSuccess(),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
