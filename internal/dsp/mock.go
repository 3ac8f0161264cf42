package dsp

import "fmt"

// maxMockChannels caps the synthesized mock graph at 20 channels (§4.D).
const maxMockChannels = 20

// MockGraph synthesizes a trivial source->sink pipeline with one flow
// per channel, used when a device has no tuned DSP description (§4.D).
func MockGraph(channels int) *Graph {
	if channels > maxMockChannels {
		channels = maxMockChannels
	}
	if channels < 1 {
		channels = 1
	}

	g := &Graph{flowsByName: map[string]*Flow{}, buffers: map[int][]float32{}}
	source := &Plugin{Library: "builtin", Label: "source"}
	sink := &Plugin{Library: "builtin", Label: "sink", Purpose: "playback"}

	for c := 0; c < channels; c++ {
		flowName := fmt.Sprintf("ch_%d", c)
		flow := &Flow{ID: c, Name: flowName, Kind: PortAudio, Producer: source.Label, Consumer: sink.Label}
		g.flowsByName[flowName] = flow

		source.Outputs = append(source.Outputs, Port{Name: fmt.Sprintf("output_%d", c), Kind: PortAudio, Flow: flowName})
		sink.Inputs = append(sink.Inputs, Port{Name: fmt.Sprintf("input_%d", c), Kind: PortAudio, Flow: flowName})
	}

	g.Plugins = []*Plugin{source, sink}
	return g
}
