package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-payments/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		name      string
		projectID string
		topic     string
		want      string
	}{
		{name: "id expands", projectID: "shop-prod", topic: "order-events", want: "projects/shop-prod/topics/order-events"},
		{name: "trims", projectID: " shop-prod ", topic: " order-events ", want: "projects/shop-prod/topics/order-events"},
		{name: "full name passes through", projectID: "other", topic: "projects/shop-prod/topics/order-events", want: "projects/shop-prod/topics/order-events"},
		{name: "empty topic", projectID: "shop-prod", topic: "", want: ""},
		{name: "missing project", projectID: "", topic: "order-events", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, TopicResourceName(tc.projectID, tc.topic))
		})
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{OrdersTopic: "x"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	require.Nil(t, c.Publisher("order-events"))
	require.Error(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())
}

func TestClientOptionsPickCredentialSource(t *testing.T) {
	require.Empty(t, clientOptions(config.GCPConfig{ProjectID: "p"}))
	require.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`}), 1)
	require.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/secrets/sa.json"}), 1)
	require.Len(t, clientOptions(config.GCPConfig{
		CredentialsJSON:        `{"type":"service_account"}`,
		ApplicationCredentials: "/secrets/sa.json",
	}), 1)
}
