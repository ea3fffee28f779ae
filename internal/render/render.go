// Package render draws the moving-map view: a full-screen fragment shader
// samples the residency cache's tile-map and atlas textures directly, so
// the only per-frame CPU work is reconciling residency and writing a small
// constant buffer.
package render

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/flightdeck/a22x/internal/dataset"
	"github.com/flightdeck/a22x/internal/grid"
	"github.com/flightdeck/a22x/internal/residency"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/fullscreen.wgsl
var fullscreenShaderWGSL string

//go:embed shaders/render.wgsl
var renderShaderWGSL string

// cbufferSize is the constant buffer's fixed byte size, matching
// original_source/render/src/lib.rs's Renderer::CBUFFER_SIZE.
const cbufferSize = 48

// tileStatusBufferSize is the feedback buffer's byte size: one u32 per grid
// cell, matching internal/residency.TileCache's own buffer allocation.
const tileStatusBufferSize = grid.TotalCells * 4

// LatLon is a polar coordinate, in degrees.
type LatLon struct {
	Lat float32
	Lon float32
}

// RendererOptions configures a Renderer at construction time.
type RendererOptions struct {
	// DataPath is a directory containing a "_meta" sidecar (one dataset
	// filename per line, fine to coarse) plus the datasets it names.
	DataPath string
	// OutputFormat is the color format of the render target Render writes
	// into.
	OutputFormat gputypes.TextureFormat
}

// FrameOptions describes one frame's viewpoint. Zero-value fields are not
// meaningful; use DefaultFrameOptions for the original renderer's defaults.
type FrameOptions struct {
	Width, Height uint32
	Position      LatLon
	VerticalAngle float32 // radians
	Heading       float32 // degrees
	Altitude      float32 // meters
}

// DefaultFrameOptions mirrors original_source/render/src/lib.rs's
// `impl Default for FrameOptions`.
func DefaultFrameOptions() FrameOptions {
	return FrameOptions{
		Width:         100,
		Height:        100,
		Position:      LatLon{Lat: 0, Lon: 0},
		VerticalAngle: 0.297,
		Heading:       0,
		Altitude:      10000,
	}
}

// Renderer owns the constant buffer, bind group layout and render pipeline,
// and the residency.TileCache backing the view. Grounded on
// original_source/render/src/lib.rs's Renderer.
type Renderer struct {
	cache    *residency.TileCache
	datasets []*dataset.Reader

	cbuffer  hal.Buffer
	layout   hal.BindGroupLayout
	pipeline hal.RenderPipeline
	group    hal.BindGroup

	device hal.Device
}

// New opens the datasets named in DataPath's "_meta" sidecar, builds the
// residency cache, compiles the two shaders, and creates the render
// pipeline and initial bind group.
func New(device hal.Device, opts RendererOptions) (*Renderer, error) {
	names, err := readMeta(filepath.Join(opts.DataPath, "_meta"))
	if err != nil {
		return nil, fmt.Errorf("render: reading _meta: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("render: _meta lists no datasets")
	}

	datasets := make([]*dataset.Reader, 0, len(names))
	for _, name := range names {
		r, err := dataset.Open(filepath.Join(opts.DataPath, name))
		if err != nil {
			for _, opened := range datasets {
				opened.Close()
			}
			return nil, fmt.Errorf("render: opening dataset %s: %w", name, err)
		}
		datasets = append(datasets, r)
	}

	cache, err := residency.NewTileCache(device, datasets)
	if err != nil {
		return nil, err
	}

	cbuffer, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label:            "a22x render constants",
		Size:             cbufferSize,
		Usage:            gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("render: creating constant buffer: %w", err)
	}

	layout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "a22x render bind group layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeUint,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
			},
			{
				Binding:    3,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeUint,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    4,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("render: creating bind group layout: %w", err)
	}

	pipeline, err := createPipeline(device, layout, opts.OutputFormat)
	if err != nil {
		return nil, err
	}

	group, err := makeBindGroup(device, layout, cbuffer, cache)
	if err != nil {
		return nil, err
	}

	return &Renderer{
		cache:    cache,
		datasets: datasets,
		cbuffer:  cbuffer,
		layout:   layout,
		pipeline: pipeline,
		group:    group,
		device:   device,
	}, nil
}

func createPipeline(device hal.Device, layout hal.BindGroupLayout, outputFormat gputypes.TextureFormat) (hal.RenderPipeline, error) {
	vertexModule, err := compileShader(device, "a22x fullscreen vertex shader", fullscreenShaderWGSL)
	if err != nil {
		return nil, err
	}
	fragmentModule, err := compileShader(device, "a22x render fragment shader", renderShaderWGSL)
	if err != nil {
		return nil, err
	}

	pipelineLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "a22x render pipeline layout",
		BindGroupLayouts: []hal.BindGroupLayout{layout},
	})
	if err != nil {
		return nil, fmt.Errorf("render: creating pipeline layout: %w", err)
	}

	pipeline, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "a22x render pipeline",
		Layout: pipelineLayout,
		Vertex: hal.VertexState{
			Module:     vertexModule,
			EntryPoint: "main",
		},
		Fragment: &hal.FragmentState{
			Module:     fragmentModule,
			EntryPoint: "main",
			Targets: []gputypes.ColorTargetState{
				{Format: outputFormat, WriteMask: gputypes.ColorWriteMaskAll},
			},
		},
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xffffffff},
	})
	if err != nil {
		return nil, fmt.Errorf("render: creating render pipeline: %w", err)
	}
	return pipeline, nil
}

// compileShader compiles WGSL to SPIR-V via naga, matching the shader-module
// creation idiom of _examples/other_examples's gogpu-gg GPUFineRasterizer.
func compileShader(device hal.Device, label, wgsl string) (hal.ShaderModule, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("render: compiling %s: %w", label, err)
	}

	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}

	module, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("render: creating shader module %s: %w", label, err)
	}
	return module, nil
}

func makeBindGroup(device hal.Device, layout hal.BindGroupLayout, cbuffer hal.Buffer, cache *residency.TileCache) (hal.BindGroup, error) {
	group, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "a22x render bind group",
		Layout: layout,
		Entries: []hal.BindGroupEntry{
			{Binding: 0, Buffer: cbuffer},
			{Binding: 1, TextureView: cache.TileMapView()},
			{Binding: 2, Buffer: cache.TileStatusBuffer()},
			{Binding: 3, TextureView: cache.AtlasView()},
			{Binding: 4, TextureView: cache.HillshadeView()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("render: creating bind group: %w", err)
	}
	return group, nil
}

// Render reconciles tile residency against last frame's feedback, then
// clears the feedback buffer, writes the constant buffer, and draws one
// full-screen triangle into view.
func (r *Renderer) Render(opts FrameOptions, queue hal.Queue, view hal.TextureView, encoder hal.CommandEncoder) error {
	status := r.cache.PopulateTiles(r.device, queue, opts.Height, opts.VerticalAngle)
	if status == residency.Resized {
		group, err := makeBindGroup(r.device, r.layout, r.cbuffer, r.cache)
		if err != nil {
			return err
		}
		r.group = group
	}

	encoder.ClearBuffer(r.cache.TileStatusBuffer(), 0, uint64(tileStatusBufferSize))
	queue.WriteBuffer(r.cbuffer, 0, cbufferBytes(r.cache.TileSize(), opts))

	pass := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "a22x render pass",
		ColorAttachments: []hal.RenderPassColorAttachment{
			{
				View:    view,
				LoadOp:  gputypes.LoadOpClear,
				StoreOp: gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
			},
		},
	})
	pass.SetPipeline(r.pipeline)
	pass.SetBindGroup(0, r.group, nil)
	pass.Draw(3, 1, 0, 0)
	pass.End()

	return nil
}

// cbufferBytes packs one frame's constants into the 48-byte layout
// original_source/render/src/lib.rs's get_cbuffer_data defines byte for
// byte: radians-converted lat/lon, an 8-byte gap, vertical angle, aspect
// ratio, the active LOD's tile size, a heading term inverted to match the
// shader's rotation convention, altitude, and a trailing 12-byte gap.
func cbufferBytes(tileSize uint32, opts FrameOptions) []byte {
	buf := make([]byte, cbufferSize)

	putFloat32(buf[0:4], opts.Position.Lat*math.Pi/180)
	putFloat32(buf[4:8], opts.Position.Lon*math.Pi/180)
	// bytes 8..16 reserved, left zero.
	putFloat32(buf[16:20], opts.VerticalAngle)
	aspectRatio := float32(opts.Width) / float32(opts.Height)
	putFloat32(buf[20:24], aspectRatio)
	putFloat32(buf[24:28], float32(tileSize))
	putFloat32(buf[28:32], (360-opts.Heading)*math.Pi/180)
	putFloat32(buf[32:36], opts.Altitude)
	// bytes 36..48 reserved, left zero.

	return buf
}

func putFloat32(dst []byte, v float32) {
	bits := math.Float32bits(v)
	dst[0] = byte(bits)
	dst[1] = byte(bits >> 8)
	dst[2] = byte(bits >> 16)
	dst[3] = byte(bits >> 24)
}

// readMeta reads a "_meta" sidecar: one dataset filename per line, blank
// lines skipped, in LOD order (fine to coarse).
func readMeta(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names, nil
}

// Close releases the renderer's datasets. GPU resources (pipeline, bind
// group layout, buffer, cache textures) are owned by the device they were
// created on and are released via the device's own teardown.
func (r *Renderer) Close() error {
	var firstErr error
	for _, d := range r.datasets {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
