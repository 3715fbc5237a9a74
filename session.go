package kmyth

import "context"

// sessionState tracks the Init/Active/Closed lifecycle from spec.md
// section 3 ("Lifecycle").
type sessionState uint8

const (
	sessionInit sessionState = iota
	sessionActive
	sessionClosed
)

// Session is the authorization-session state container described in
// spec.md section 3: the state machine tying NonceBook, ParameterHasher,
// AuthHMAC and PolicyEngine together for one TPM authorization session.
// A Session is owned by exactly one logical caller from start to close and
// is not safe for concurrent use (spec.md section 5).
type Session struct {
	transport Transport
	cb        CommandBuilder
	crypto    CryptoProvider
	zero      Zeroizer
	logger    Logger

	state       sessionState
	sessionType SessionType
	handle      Handle

	tpmKey Handle
	bind   Handle

	encryptedSalt []byte
	salt          []byte

	symmetric *SymDef
	authHash  AlgorithmId

	sessionKey    []byte
	authValueBind Digest

	nonces   *NonceBook
	nonceTPM Nonce

	attributes SessionAttributes

	pcrBinding      PcrSelection
	policySatisfied bool
}

// StartSession implements SessionStart from spec.md section 6: chooses a
// fresh nonceCaller, issues StartAuthSession, captures the handle and the
// TPM's nonce, and derives sessionKey per TPM 2.0 section 19.
func StartSession(ctx context.Context, transport Transport, cb CommandBuilder, crypto CryptoProvider, logger Logger, sessionType SessionType, tpmKey, bind Handle, bindAuth Digest, authHash AlgorithmId) (*Session, error) {
	if !authHash.Supported() {
		return nil, invalidInputf("unsupported hash algorithm %s", authHash)
	}

	nonceCaller, err := crypto.RandomBytes(authHash.Size())
	if err != nil {
		return nil, wrapError(KindInternal, "failed to generate nonceCaller", err)
	}

	params := encodeStartAuthSessionParams(tpmKey, bind, sessionType, nil, authHash, Nonce(nonceCaller))
	cmdBytes, err := cb.BuildCommand(CommandStartAuthSession, HandleNull, nil, params)
	if err != nil {
		return nil, wrapError(KindInternal, "failed to build StartAuthSession command", err)
	}

	rspBytes, rc, err := transport.Send(ctx, cmdBytes)
	if err != nil {
		return nil, wrapError(KindTransportFailure, "StartAuthSession transport failure", err)
	}
	if rc != Success {
		return nil, tpmError(CommandStartAuthSession, rc)
	}

	paramsOut, _, err := cb.ParseResponse(rspBytes, false)
	if err != nil {
		return nil, wrapError(KindInternal, "failed to parse StartAuthSession response", err)
	}
	handle, nonceTPM, err := decodeStartAuthSessionResponse(paramsOut, authHash.Size())
	if err != nil {
		return nil, err
	}

	nonces, err := NewNonceBook(authHash, Nonce(nonceCaller))
	if err != nil {
		return nil, err
	}

	sessionKey, err := deriveSessionKey(crypto, authHash, nil, bindAuth, Nonce(nonceCaller), nonceTPM)
	if err != nil {
		return nil, err
	}

	return &Session{
		transport:     transport,
		cb:            cb,
		crypto:        crypto,
		zero:          StandardZeroizer{},
		logger:        logOrNop(logger),
		state:         sessionActive,
		sessionType:   sessionType,
		handle:        handle,
		tpmKey:        tpmKey,
		bind:          bind,
		authHash:      authHash,
		sessionKey:    sessionKey,
		authValueBind: bindAuth,
		nonces:        nonces,
		nonceTPM:      nonceTPM,
	}, nil
}

// deriveSessionKey computes sessionKey per TPM 2.0 section 19: a KDFa-style
// derivation over sessionValue = salt || authValueBind, labeled "ATH" and
// bound to both nonces, producing authHash.Size() bytes. Zero-length when
// both salt and authValueBind are absent, per spec.md section 3.
func deriveSessionKey(crypto CryptoProvider, authHash AlgorithmId, salt, authValueBind Digest, nonceCaller, nonceTPM Nonce) ([]byte, error) {
	if len(salt) == 0 && len(authValueBind) == 0 {
		return []byte{}, nil
	}
	sessionValue := make([]byte, 0, len(salt)+len(authValueBind))
	sessionValue = append(sessionValue, salt...)
	sessionValue = append(sessionValue, authValueBind...)

	info := make([]byte, 0, len("ATH")+1+len(nonceTPM)+len(nonceCaller))
	info = append(info, []byte("ATH")...)
	info = append(info, 0x00)
	info = append(info, nonceTPM...)
	info = append(info, nonceCaller...)

	return crypto.HKDF(authHash, nil, sessionValue, info, authHash.Size())
}

// Exchange implements SessionExchange from spec.md section 6 and runs the
// protocol core described in spec.md section 4.6.
func (s *Session) Exchange(ctx context.Context, code CommandCode, entityHandle Handle, entityName Name, entityAuthValue Digest, paramsIn []byte, attrs SessionAttributes, pcrBinding PcrSelection) ([]byte, error) {
	if s.state != sessionActive {
		return nil, internalf("exchange called on session in state %d, expected active", s.state)
	}

	if s.sessionType == SessionTypePolicy && !s.policySatisfied {
		engine := NewPolicyEngine(s.transport, s.cb, s.crypto, s.logger)
		if err := engine.satisfyPolicy(ctx, s, pcrBinding); err != nil {
			s.fatal(ctx)
			return nil, err
		}
		s.pcrBinding = pcrBinding
		s.policySatisfied = true
	}

	rc, paramsOut, err := withRetry(ctx, defaultRetryPolicy, func(attempt int) (ResponseCode, []byte, error) {
		return s.exchangeOnce(ctx, code, entityHandle, entityName, entityAuthValue, paramsIn, attrs, attempt)
	})
	if err != nil {
		s.fatal(ctx)
		return nil, err
	}
	if rc != Success {
		s.fatal(ctx)
		return nil, tpmError(code, rc)
	}
	return paramsOut, nil
}

func (s *Session) exchangeOnce(ctx context.Context, code CommandCode, entityHandle Handle, entityName Name, entityAuthValue Digest, paramsIn []byte, attrs SessionAttributes, attempt int) (ResponseCode, []byte, error) {
	cp, err := cpHash(s.crypto, s.authHashOrDefault(), code, entityName, paramsIn)
	if err != nil {
		return 0, nil, err
	}

	cmdRoles := commandNonceRoles(s.nonces, s.nonceTPM)
	cmdHMAC, err := authHMAC(s.crypto, s.authHashOrDefault(), s.sessionKey, entityAuthValue, cp, cmdRoles, attrs)
	if err != nil {
		return 0, nil, err
	}

	auth := &AuthArea{Handle: s.handle, Nonce: s.nonces.Newer(), Attributes: attrs, HMAC: cmdHMAC}
	cmdBytes, err := s.cb.BuildCommand(code, entityHandle, auth, paramsIn)
	if err != nil {
		return 0, nil, wrapError(KindInternal, "failed to build command", err)
	}

	sentNonce := s.nonces.Newer()

	rspBytes, rc, err := s.transport.Send(ctx, cmdBytes)
	if err != nil {
		return 0, nil, wrapError(KindTransportFailure, "exchange transport failure", err)
	}
	if rc != Success {
		terr := tpmError(code, rc)
		if terr.Kind == KindTpmRetry {
			terr.Attempt = attempt
		}
		return rc, nil, terr
	}

	paramsOut, rspAuth, err := s.cb.ParseResponse(rspBytes, true)
	if err != nil {
		return 0, nil, wrapError(KindInternal, "failed to parse response", err)
	}
	if rspAuth == nil {
		return 0, nil, internalf("response carried no auth area for an authorized command")
	}

	if err := s.nonces.Roll(rspAuth.Nonce); err != nil {
		return 0, nil, err
	}
	s.nonceTPM = rspAuth.Nonce

	rp, err := rpHash(s.crypto, s.authHashOrDefault(), Success, code, paramsOut)
	if err != nil {
		return 0, nil, err
	}

	rspRoles := responseNonceRoles(rspAuth.Nonce, sentNonce)
	expected, err := authHMAC(s.crypto, s.authHashOrDefault(), s.sessionKey, entityAuthValue, rp, rspRoles, rspAuth.Attributes)
	if err != nil {
		return 0, nil, err
	}
	if !authHMACEqual(expected, rspAuth.HMAC) {
		return 0, nil, newError(KindAuthVerificationFailed, "response authHMAC mismatch")
	}

	return Success, paramsOut, nil
}

func (s *Session) authHashOrDefault() AlgorithmId {
	if s.authHash.Supported() {
		return s.authHash
	}
	return AlgorithmSHA256
}

// Close implements SessionClose from spec.md section 6: issues
// FlushContext and zeroizes every sensitive field. Idempotent after the
// first call.
func (s *Session) Close(ctx context.Context) error {
	if s.state == sessionClosed {
		return nil
	}
	var flushErr error
	if s.handle != HandleNull {
		cmdBytes, err := s.cb.BuildCommand(CommandFlushContext, s.handle, nil, nil)
		if err == nil {
			_, rc, sendErr := s.transport.Send(ctx, cmdBytes)
			if sendErr != nil {
				flushErr = wrapError(KindTransportFailure, "FlushContext transport failure", sendErr)
			} else if rc != Success {
				flushErr = tpmError(CommandFlushContext, rc)
			}
		} else {
			flushErr = wrapError(KindInternal, "failed to build FlushContext command", err)
		}
	}

	zeroAll(s.zero, s.sessionKey, s.authValueBind, s.salt)
	s.handle = HandleNull
	s.state = sessionClosed

	if flushErr != nil {
		s.logger.Warnf("FlushContext failed during close: %v", flushErr)
	}
	return flushErr
}

// fatal closes the session best-effort after a protocol-fatal error, per
// spec.md section 4.6 ("any -> fatal protocol error -> Closed").
func (s *Session) fatal(ctx context.Context) {
	if err := s.Close(ctx); err != nil {
		s.logger.Errorf("fatal session close encountered a secondary error: %v", err)
	}
}

// encodeStartAuthSessionParams and decodeStartAuthSessionResponse give
// StartSession a minimal, self-consistent wire encoding for the one
// command it must issue directly, consistent with policy.go's narrow
// CommandBuilder seam (spec.md section 6 delegates real TSS2 serialization
// to the transport).
func encodeStartAuthSessionParams(tpmKey, bind Handle, sessionType SessionType, symmetric *SymDef, authHash AlgorithmId, nonceCaller Nonce) []byte {
	buf := make([]byte, 0, 4+4+1+2+2+len(nonceCaller))
	buf = appendU32(buf, uint32(tpmKey))
	buf = appendU32(buf, uint32(bind))
	buf = append(buf, byte(sessionType))
	buf = appendU16(buf, uint16(authHash))
	buf = appendU16(buf, uint16(len(nonceCaller)))
	buf = append(buf, nonceCaller...)
	return buf
}

func decodeStartAuthSessionResponse(params []byte, nonceSize int) (Handle, Nonce, error) {
	if len(params) < 4+nonceSize {
		return 0, nil, internalf("StartAuthSession response too short")
	}
	handle := Handle(beU32(params[0:4]))
	nonceTPM := Nonce(params[4 : 4+nonceSize])
	return handle, nonceTPM, nil
}
