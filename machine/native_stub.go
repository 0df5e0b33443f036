//go:build !cgo || !linux

package machine

// DefaultNativeLibrary is the loader library opened when no path is configured.
const DefaultNativeLibrary = "libbuzzmachineloader.so"

// NativeLoader is unavailable in this build.
type NativeLoader struct{}

// OpenNative always fails without cgo on linux.
func OpenNative(path string) (*NativeLoader, error) {
	return nil, ErrNativeUnavailable
}

func (l *NativeLoader) Name() string { return "native" }

func (l *NativeLoader) SetMasterInfo(MasterInfo) {}

func (l *NativeLoader) Open(path string) (Library, error) { return nil, ErrNativeUnavailable }

func (l *NativeLoader) Close() error { return nil }
