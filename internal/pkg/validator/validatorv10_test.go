package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindTopicInput struct {
	TopicID  string `validate:"required,resource_id"`
	Encoding string `validate:"omitempty,encoding"`
	MaxCount int    `validate:"gte=1,lte=1000"`
}

func TestV10Validator(t *testing.T) {
	v, err := NewV10Validator()
	require.NoError(t, err)

	require.NoError(t, v.Validate(bindTopicInput{TopicID: "states-topic", Encoding: "json", MaxCount: 10}))
	require.NoError(t, v.Validate(bindTopicInput{TopicID: "abc", MaxCount: 1}))

	err = v.Validate(bindTopicInput{TopicID: "goog-topic", Encoding: "avro", MaxCount: 0})
	var vErr V10ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Len(t, vErr.Values(), 3)
	assert.Contains(t, vErr["topic_id"], "must start with a letter")
	assert.Equal(t, "Encoding must be BINARY or JSON", vErr["encoding"])
	assert.Contains(t, vErr, "max_count")
	assert.Contains(t, vErr.Error(), "topic_id")

	err = v.Validate(bindTopicInput{TopicID: "1x", MaxCount: 1})
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr, "topic_id")

	err = v.Validate(bindTopicInput{TopicID: "ab", MaxCount: 1})
	require.ErrorAs(t, err, &vErr)
}
