package ml

import "fmt"

// Device identifies the execution target that backing arrays live on.
// Relocation between devices always copies; see the To methods on the
// input and adapter containers.
type Device string

const DeviceCPU Device = "cpu"

// DeviceCUDA returns the device for a CUDA ordinal.
func DeviceCUDA(ordinal int) Device {
	return Device(fmt.Sprintf("cuda:%d", ordinal))
}

// DType is the element type of an array payload.
type DType uint32

const (
	DTypeF32 DType = iota
	DTypeF16
)
