package core

import (
	"basalt/internal/crypto"
	"basalt/internal/device"
	"basalt/internal/kdf"
)

func cryptoSelfTest() error {
	if err := crypto.SelfTest(); err != nil {
		return err
	}
	return kdf.SelfTest()
}

func openBackingForHeaderWrite(path string) (*device.Backing, error) {
	return device.Open(path, false, true)
}
