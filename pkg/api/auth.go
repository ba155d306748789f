package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hypersettle/pkg/auth"
	"github.com/uhyunpark/hypersettle/pkg/crypto"
)

const (
	HeaderCaller    = "X-Caller"
	HeaderNonce     = "X-Caller-Nonce"
	HeaderSignature = "X-Caller-Signature"

	maxBodyBytes = 4 << 20
)

var callTag = []byte("hypersettle.call")

var (
	errMissingCaller  = errors.New("missing caller headers")
	errCallerMismatch = errors.New("signature does not recover to caller")
)

type callerKey struct{}

// CallDigest is what a caller signs: the engine's domain separator, the
// request method and path, a per-caller nonce and keccak256 of the body.
// A signature is good for one deployment, one route and one nonce.
func CallDigest(separator common.Hash, method, path string, nonce uint64, body []byte) common.Hash {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return ethcrypto.Keccak256Hash(
		callTag,
		separator.Bytes(),
		[]byte(method),
		[]byte(path),
		n[:],
		ethcrypto.Keccak256(body),
	)
}

// SignRequest sets the caller headers for body, signed by signer under
// domain with the given nonce. Nonces must increase per caller.
func SignRequest(req *http.Request, signer *crypto.Signer, domain crypto.Domain, nonce uint64, body []byte) error {
	sep, err := domain.Separator()
	if err != nil {
		return err
	}
	digest := CallDigest(sep, req.Method, req.URL.Path, nonce, body)
	sig, err := signer.Sign(digest.Bytes())
	if err != nil {
		return err
	}
	req.Header.Set(HeaderCaller, signer.Address().Hex())
	req.Header.Set(HeaderNonce, strconv.FormatUint(nonce, 10))
	req.Header.Set(HeaderSignature, hexutil.Encode(sig))
	return nil
}

// authenticateCaller recovers who signed the request, consumes its nonce
// and stores the caller in the request context. The body is buffered so
// handlers can decode it.
func (s *Server) authenticateCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalidRequest", fmt.Sprintf("failed to read body: %v", err))
			return
		}
		caller, nonce, err := recoverCaller(s.separator, r, body)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		if err := s.nonces.Use(caller, nonce); err != nil {
			if errors.Is(err, auth.ErrStaleNonce) {
				respondError(w, http.StatusUnauthorized, "staleNonce", err.Error())
				return
			}
			s.log.Errorw("nonce_persist_failed", "caller", caller.Hex(), "err", err)
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func recoverCaller(separator common.Hash, r *http.Request, body []byte) (common.Address, uint64, error) {
	claimed, nonceStr, sigHex := r.Header.Get(HeaderCaller), r.Header.Get(HeaderNonce), r.Header.Get(HeaderSignature)
	if claimed == "" || nonceStr == "" || sigHex == "" {
		return common.Address{}, 0, errMissingCaller
	}
	if !common.IsHexAddress(claimed) {
		return common.Address{}, 0, fmt.Errorf("invalid caller address %q", claimed)
	}
	nonce, err := strconv.ParseUint(nonceStr, 10, 64)
	if err != nil {
		return common.Address{}, 0, fmt.Errorf("invalid caller nonce %q", nonceStr)
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, 0, fmt.Errorf("invalid caller signature: %w", err)
	}
	digest := CallDigest(separator, r.Method, r.URL.Path, nonce, body)
	recovered, err := crypto.RecoverAddress(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, 0, fmt.Errorf("invalid caller signature: %w", err)
	}
	if recovered != common.HexToAddress(claimed) {
		return common.Address{}, 0, errCallerMismatch
	}
	return recovered, nonce, nil
}

// callerFrom returns the authenticated caller of r.
func callerFrom(r *http.Request) common.Address {
	caller, _ := r.Context().Value(callerKey{}).(common.Address)
	return caller
}
