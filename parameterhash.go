package kmyth

import "encoding/binary"

// cpHash computes the command-parameter hash per spec.md section 4.3:
// H(u32be(code) || entityName || params).
func cpHash(crypto CryptoProvider, hashAlg AlgorithmId, code CommandCode, entityName Name, params []byte) (Digest, error) {
	buf := make([]byte, 4, 4+len(entityName)+len(params))
	binary.BigEndian.PutUint32(buf, uint32(code))
	buf = append(buf, entityName...)
	buf = append(buf, params...)
	return crypto.Hash(hashAlg, buf)
}

// rpHash computes the response-parameter hash per spec.md section 4.3:
// H(u32be(rc) || u32be(code) || params).
func rpHash(crypto CryptoProvider, hashAlg AlgorithmId, rc ResponseCode, code CommandCode, params []byte) (Digest, error) {
	buf := make([]byte, 8, 8+len(params))
	binary.BigEndian.PutUint32(buf[0:4], uint32(rc))
	binary.BigEndian.PutUint32(buf[4:8], uint32(code))
	buf = append(buf, params...)
	return crypto.Hash(hashAlg, buf)
}
