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

import "sync"

// StepEventKind discriminates progress events.
type StepEventKind int

const (
	StepBegin StepEventKind = iota
	StepPercentage
	StepEnd
)

// StepEvent is one structured progress event. Every macro step of an install
// emits a begin and an end event; only copy_image emits continuous
// percentages in between.
type StepEvent struct {
	Kind StepEventKind
	// Machine-readable step name, e.g. "copy_image".
	Name string
	// Human-readable label, only set on begin.
	Description string
	// Number of substeps hint, only set on begin.
	Substeps int
	// Only set on percentage events.
	Percentage int
	// Only set on end events.
	Success bool
}

// Progress publishes step events to a single observer. A Progress with no
// observer is inactive: percentage bookkeeping is skipped entirely, matching
// the engine's behavior of only computing percentages when someone listens.
type Progress struct {
	mu          sync.Mutex
	observer    func(StepEvent)
	lastPercent map[string]int
}

func NewProgress(observer func(StepEvent)) *Progress {
	return &Progress{
		observer:    observer,
		lastPercent: make(map[string]int),
	}
}

func (p *Progress) active() bool {
	return p != nil && p.observer != nil
}

func (p *Progress) emit(ev StepEvent) {
	p.mu.Lock()
	observer := p.observer
	p.mu.Unlock()
	if observer != nil {
		observer(ev)
	}
}

// BeginStep announces a macro step with an optional substep count hint.
func (p *Progress) BeginStep(name, description string, substeps int) {
	if !p.active() {
		return
	}
	p.mu.Lock()
	p.lastPercent[name] = -1
	p.mu.Unlock()
	p.emit(StepEvent{
		Kind:        StepBegin,
		Name:        name,
		Description: description,
		Substeps:    substeps,
	})
}

// SetStepPercentage publishes a percentage for the named step; duplicate
// values are suppressed.
func (p *Progress) SetStepPercentage(name string, percent int) {
	if !p.active() {
		return
	}
	p.mu.Lock()
	if p.lastPercent[name] == percent {
		p.mu.Unlock()
		return
	}
	p.lastPercent[name] = percent
	p.mu.Unlock()
	p.emit(StepEvent{
		Kind:       StepPercentage,
		Name:       name,
		Percentage: percent,
	})
}

// EndStep closes a macro step.
func (p *Progress) EndStep(name string, success bool) {
	if !p.active() {
		return
	}
	p.emit(StepEvent{
		Kind:    StepEnd,
		Name:    name,
		Success: success,
	})
}
