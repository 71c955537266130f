package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "appointment.created", routingKey(AppointmentCreated))
	assert.Equal(t, "appointment.status_changed", routingKey(AppointmentStatusChanged))
	assert.Equal(t, "appointment.no_show", routingKey(AppointmentNoShow))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: AppointmentCreated}))
	assert.NoError(t, p.Close())
}
