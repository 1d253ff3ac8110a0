// Package secure provides memory-safe handling of sensitive data.
//
// Two holders are provided:
//
//   - Buffer keeps plaintext bytes the program must hand to a driver (a
//     database password, a connection URI) and overwrites them with zeros on
//     Wipe. Go strings cannot be erased, so callers keep secrets here and only
//     materialize a string at the last moment.
//   - Sealed wraps a memguard Enclave so raw key material stays encrypted in
//     memory between loading and use.
//
// # Usage
//
//	pw := secure.NewBuffer([]byte("hunter2"))
//	defer pw.Wipe()
//
//	key, err := secure.NewSealed(rawKey) // rawKey is wiped by memguard
//	if err != nil {
//	    return err
//	}
//	defer key.Destroy()
//
//	err = key.Use(func(k []byte) error {
//	    _, err := aead.Encrypt(plaintext, k)
//	    return err
//	})
//
// # Platform Behavior
//
// Enclave keys live in mlocked memory. On Linux this requires RLIMIT_MEMLOCK
// to allow a few pages.
//
// It does NOT protect against:
//
//   - Attackers with root access to the running process
//   - Copies the Go runtime made before the secret reached a Buffer
//   - Strings derived from a Buffer via String()
package secure
