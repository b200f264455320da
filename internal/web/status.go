package web

import (
	"net/http"
	"time"

	"efbgps/internal/efb"
	"efbgps/internal/gps"
)

const serviceName = "efbgps"

type StatusResponse struct {
	Service   string        `json:"service"`
	Device    string        `json:"device_name"`
	NowUTC    string        `json:"now_utc"`
	UptimeSec int64         `json:"uptime_sec"`
	EFB       efb.Status    `json:"efb"`
	GPS       *gps.Snapshot `json:"gps,omitempty"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	resp := StatusResponse{
		Service:   serviceName,
		Device:    h.deviceName,
		NowUTC:    now.Format(time.RFC3339Nano),
		UptimeSec: int64(now.Sub(h.started).Seconds()),
		EFB:       h.core.Status(),
	}
	if h.gps != nil {
		snap := h.gps.Snapshot()
		resp.GPS = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}
