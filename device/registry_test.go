package device_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/device"
	_ "github.com/gogpu/vfx/device/software"
	"github.com/gogpu/vfx/gpucore"
)

func TestSoftwareRegistered(t *testing.T) {
	if !slices.Contains(device.Available(), device.NameSoftware) {
		t.Fatalf("Available() = %v, want it to contain %q", device.Available(), device.NameSoftware)
	}
	dev, err := device.Named(device.NameSoftware)(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Destroy()
	if !dev.HasComputeSupport() {
		t.Error("software device should support compute")
	}
}

func TestNamedUnknown(t *testing.T) {
	_, err := device.Named("quantum")(context.Background())
	if !errors.Is(err, vfx.ErrDeviceUnavailable) {
		t.Errorf("Named(unknown) = %v, want ErrDeviceUnavailable", err)
	}
}

func TestDefaultSkipsFailingDevices(t *testing.T) {
	device.Register(device.NameNative, func(context.Context) (gpucore.Device, error) {
		return nil, errors.New("no vulkan loader")
	})
	t.Cleanup(func() { device.Unregister(device.NameNative) })

	dev, err := device.Default()(context.Background())
	if err != nil {
		t.Fatalf("Default() = %v", err)
	}
	defer dev.Destroy()
	if dev.Name() != "software" {
		t.Errorf("Default() opened %q, want software", dev.Name())
	}
}

func TestDefaultAllFail(t *testing.T) {
	saved, _ := device.Lookup(device.NameSoftware)
	device.Unregister(device.NameSoftware)
	t.Cleanup(func() { device.Register(device.NameSoftware, saved) })

	device.Register(device.NameNative, func(context.Context) (gpucore.Device, error) {
		return nil, errors.New("no adapter")
	})
	t.Cleanup(func() { device.Unregister(device.NameNative) })

	if _, err := device.Default()(context.Background()); !errors.Is(err, vfx.ErrDeviceUnavailable) {
		t.Errorf("Default() = %v, want ErrDeviceUnavailable", err)
	}
}
