package iec61850

// #cgo LDFLAGS: -liec61850 -lpthread
// #include "bridge.h"
import "C"

import "unsafe"

// GetVersionString retrieves the version string of the underlying libIEC61850 library.
func GetVersionString() string {
	value := C.LibIEC61850_getVersionString()
	return C.GoString(value)
}

// Go2CStr allocates a C copy of s. The caller frees it with C.free.
func Go2CStr(s string) *C.char {
	return C.CString(s)
}

// C2GoStr converts a C string, mapping NULL to "".
func C2GoStr(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

func freeCStr(s *C.char) {
	C.free(unsafe.Pointer(s))
}
