package ws

import (
	"encoding/json"
	"time"
)

// ProgressSink bridges the deployment pipeline to the hub: each step event
// becomes a JSON message on the deployment's stream.
type ProgressSink struct {
	hub *Hub
}

func NewProgressSink(hub *Hub) *ProgressSink {
	return &ProgressSink{hub: hub}
}

// Publish broadcasts one step event for a deployment.
func (p *ProgressSink) Publish(deploymentID, step string) {
	payload, err := json.Marshal(map[string]string{
		"deployment_id": deploymentID,
		"step":          step,
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	p.hub.Broadcast(deploymentID, payload)
}
