//go:build nocgo
// +build nocgo

package audio

import "errors"

type deviceContext struct{ MockContext }

func newDeviceContext(int) (*deviceContext, error) {
	return nil, errors.New("audio not available in nocgo build")
}
