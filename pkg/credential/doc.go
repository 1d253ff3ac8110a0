// Package credential defines the persisted credential entity and its policy
// metadata.
//
// A Record pairs an opaque string payload with Metadata describing how the
// credential may be used. Two independent Protection fields describe
// encryption:
//
//   - Metadata.CryptoProtection is the declared policy for the credential.
//   - Record.Encryption is the algorithm actually applied to Value, or nil
//     when nothing has been applied yet.
//
// Records serialize to a canonical JSON document, one per row in the backing
// store:
//
//	{
//	  "metadata": {
//	    "valid_until": "2030-01-02T03:04:05Z",
//	    "exportable": false,
//	    "is_modifiable": true,
//	    "can_delete": true,
//	    "crypto_protection": "Aes128Gcm",
//	    "key_id": "123",
//	    "extra": ["team:payments"]
//	  },
//	  "value": "c2VjcmV0",
//	  "encryption": "Aes128Gcm"
//	}
//
// ValidateJSON checks a document against that shape before it is written or
// after it is read back.
package credential
