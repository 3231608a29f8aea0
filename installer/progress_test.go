// Copyright 2021 The rauc-go Authors
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.
package installer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressStepSequence(t *testing.T) {
	var events []StepEvent
	p := NewProgress(func(ev StepEvent) { events = append(events, ev) })

	p.BeginStep("update_slots", "Updating slots", 4)
	p.SetStepPercentage("copy_image", 10)
	p.SetStepPercentage("copy_image", 10) // duplicate, suppressed
	p.SetStepPercentage("copy_image", 55)
	p.EndStep("update_slots", true)

	require.Len(t, events, 4)
	assert.Equal(t, StepBegin, events[0].Kind)
	assert.Equal(t, "Updating slots", events[0].Description)
	assert.Equal(t, 4, events[0].Substeps)
	assert.Equal(t, 10, events[1].Percentage)
	assert.Equal(t, 55, events[2].Percentage)
	assert.Equal(t, StepEnd, events[3].Kind)
	assert.True(t, events[3].Success)
}

func TestProgressInactive(t *testing.T) {
	p := NewProgress(nil)
	// Must not panic and must not track anything.
	p.BeginStep("x", "x", 0)
	p.SetStepPercentage("x", 10)
	p.EndStep("x", false)

	var nilProgress *Progress
	assert.NotPanics(t, func() {
		nilProgress.SetStepPercentage("x", 1)
	})
}

func TestProgressPercentageResetPerStep(t *testing.T) {
	var percents []int
	p := NewProgress(func(ev StepEvent) {
		if ev.Kind == StepPercentage {
			percents = append(percents, ev.Percentage)
		}
	})

	p.BeginStep("copy_image", "Copying image", 0)
	p.SetStepPercentage("copy_image", 100)
	p.EndStep("copy_image", true)

	// A new step with the same name publishes the same percentage again.
	p.BeginStep("copy_image", "Copying image", 0)
	p.SetStepPercentage("copy_image", 100)
	p.EndStep("copy_image", true)

	assert.Equal(t, []int{100, 100}, percents)
}
