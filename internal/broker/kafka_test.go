package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaBroker_TopicFor_ResolvesNameToSubjectAfterTopology(t *testing.T) {
	b := NewKafkaBroker([]string{"localhost:9092"}, nil)
	defer b.Close()

	require.NoError(t, b.EnsureTopology(context.Background(), StandardTopology("p8fs")))

	assert.Equal(t, "p8fs.storage.events.small", b.topicFor("SMALL"))
	assert.Equal(t, "p8fs.storage.events.medium", b.topicFor("MEDIUM"))
}

func TestKafkaBroker_TopicFor_FallsBackToInputWhenUnregistered(t *testing.T) {
	b := NewKafkaBroker([]string{"localhost:9092"}, nil)
	defer b.Close()

	assert.Equal(t, "p8fs.storage.events.small", b.topicFor("p8fs.storage.events.small"))
}
