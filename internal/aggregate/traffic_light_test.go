package aggregate_test

import (
	"testing"

	"github.com/fachebot/quickscan/internal/aggregate"
	"github.com/fachebot/quickscan/internal/form"
	"github.com/fachebot/quickscan/internal/overlay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_TopicAveragesToTrafficLights(t *testing.T) {
	items := []aggregate.Item{
		{ResponseItem: form.ResponseItem{Key: "T1_0", Topic: "T1", CustomerScore: form.NewScore(4)}},
		{ResponseItem: form.ResponseItem{Key: "T2_0", Topic: "T2", CustomerScore: form.NewScore(2)}},
	}

	res := aggregate.Build(items, aggregate.PolicyCustomer)
	require.Len(t, res.Groups, 2)
	assert.InDelta(t, 3.0, res.Summary.OverallCustomer.Value, 1e-9)

	want := map[string]overlay.Bucket{"T1": overlay.Green, "T2": overlay.Red}
	for _, g := range res.Groups {
		assert.Equal(t, want[g.Topic], overlay.BucketForScore(g.Average), g.Topic)
	}
}
