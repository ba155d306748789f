package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli"

	"github.com/uhyunpark/hypersettle/pkg/api"
	"github.com/uhyunpark/hypersettle/pkg/crypto"
	"github.com/uhyunpark/hypersettle/pkg/order"
)

type settings struct {
	domainName string
	version    string
	chainID    int64
	engine     string
	key        string
	apiAddr    string
	nonce      uint64
}

func (s *settings) domain() (crypto.Domain, error) {
	if s.engine != "" && !common.IsHexAddress(s.engine) {
		return crypto.Domain{}, fmt.Errorf("invalid engine address %q", s.engine)
	}
	return crypto.Domain{
		Name:              s.domainName,
		Version:           s.version,
		ChainID:           big.NewInt(s.chainID),
		VerifyingContract: common.HexToAddress(s.engine),
	}, nil
}

func (s *settings) signer() (*crypto.Signer, error) {
	if s.key == "" {
		return nil, fmt.Errorf("a private key is required (--key or SETTLE_KEY)")
	}
	return crypto.FromPrivateKeyHex(s.key)
}

func newApp() *cli.App {
	s := &settings{}
	d := crypto.DefaultDomain()

	app := cli.NewApp()
	app.Name = "settlectl"
	app.Usage = "sign, hash and submit settlement orders"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "domain-name",
			Value:       d.Name,
			Usage:       "EIP-712 domain name",
			Destination: &s.domainName,
		},
		cli.StringFlag{
			Name:        "domain-version",
			Value:       d.Version,
			Usage:       "EIP-712 domain version",
			Destination: &s.version,
		},
		cli.Int64Flag{
			Name:        "chain-id",
			Value:       d.ChainID.Int64(),
			Usage:       "EIP-712 chain id",
			Destination: &s.chainID,
		},
		cli.StringFlag{
			Name:        "engine",
			Usage:       "engine address (the verifying contract)",
			EnvVar:      "ENGINE_ADDRESS",
			Destination: &s.engine,
		},
		cli.StringFlag{
			Name:        "key, k",
			Usage:       "hex private key used for signing",
			EnvVar:      "SETTLE_KEY",
			Destination: &s.key,
		},
		cli.StringFlag{
			Name:        "api",
			Value:       "http://localhost:8080",
			Usage:       "node API endpoint",
			Destination: &s.apiAddr,
		},
	}

	app.Commands = []cli.Command{
		{
			Name:   "keygen",
			Usage:  "Generate a new secp256k1 key: ./settlectl keygen",
			Action: keygen,
		},
		{
			Name:      "hash",
			Usage:     "Print an order's fingerprint and digest",
			ArgsUsage: "KIND ORDER_JSON_FILE",
			Action:    func(c *cli.Context) error { return hashOrder(c, s) },
		},
		{
			Name:      "typed-data",
			Usage:     "Print the EIP-712 typed data a wallet signs for an order",
			ArgsUsage: "KIND ORDER_JSON_FILE",
			Action:    func(c *cli.Context) error { return typedData(c, s) },
		},
		{
			Name:      "sign",
			Usage:     "Sign an order with --key and print the signed order",
			ArgsUsage: "KIND ORDER_JSON_FILE",
			Action:    func(c *cli.Context) error { return signOrder(c, s) },
		},
		{
			Name:      "verify",
			Usage:     "Check an order signature",
			ArgsUsage: "FINGERPRINT SIGNER SIGNATURE",
			Action:    func(c *cli.Context) error { return verify(c, s) },
		},
		{
			Name:      "submit",
			Usage:     "POST a request body to the node, signed as the caller with --key",
			ArgsUsage: "PATH BODY_JSON_FILE (e.g. /api/v1/settle/single body.json)",
			Flags: []cli.Flag{
				cli.Uint64Flag{
					Name:        "nonce",
					Usage:       "caller nonce, must exceed the last one the node accepted (default: current unix nanoseconds)",
					Destination: &s.nonce,
				},
			},
			Action: func(c *cli.Context) error { return submit(c, s) },
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func keygen(c *cli.Context) error {
	signer, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Address: %s\n", signer.Address().Hex())
	fmt.Fprintf(c.App.Writer, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	return nil
}

// readOrder decodes the order file named by the second argument as the
// family named by the first.
func readOrder(c *cli.Context) (order.Order, error) {
	args := c.Args()
	if len(args) < 2 {
		return nil, fmt.Errorf("%s needs 2 arguments (received: %d), please check usage using ./settlectl -h", c.Command.Name, len(args))
	}
	raw, err := os.ReadFile(args[1])
	if err != nil {
		return nil, err
	}
	o, err := order.Decode(order.Kind(args[0]), raw)
	if err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

func hashOrder(c *cli.Context, s *settings) error {
	o, err := readOrder(c)
	if err != nil {
		return err
	}
	d, err := s.domain()
	if err != nil {
		return err
	}
	sep, err := d.Separator()
	if err != nil {
		return err
	}
	fp := o.Hash()
	fmt.Fprintf(c.App.Writer, "Fingerprint: %s\n", fp.Hex())
	fmt.Fprintf(c.App.Writer, "Digest: %s\n", crypto.Digest(sep, fp).Hex())
	return nil
}

func typedData(c *cli.Context, s *settings) error {
	o, err := readOrder(c)
	if err != nil {
		return err
	}
	d, err := s.domain()
	if err != nil {
		return err
	}
	out, err := crypto.TypedDataJSON(o.TypedData(d))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

func signOrder(c *cli.Context, s *settings) error {
	o, err := readOrder(c)
	if err != nil {
		return err
	}
	d, err := s.domain()
	if err != nil {
		return err
	}
	signer, err := s.signer()
	if err != nil {
		return err
	}
	if signer.Address() != o.MakerAddress() {
		return fmt.Errorf("key %s is not the order maker %s", signer.Address().Hex(), o.MakerAddress().Hex())
	}
	sig, err := signer.SignTyped(d, o.Hash())
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, struct {
		Order     order.Order   `json:"order"`
		Signature hexutil.Bytes `json:"signature"`
	}{o, sig})
}

func verify(c *cli.Context, s *settings) error {
	args := c.Args()
	if len(args) < 3 {
		return fmt.Errorf("verify needs 3 arguments (received: %d), please check usage using ./settlectl -h", len(args))
	}
	fp, err := hexutil.Decode(args[0])
	if err != nil || len(fp) != common.HashLength {
		return fmt.Errorf("invalid fingerprint %q", args[0])
	}
	if !common.IsHexAddress(args[1]) {
		return fmt.Errorf("invalid signer %q", args[1])
	}
	sig, err := hexutil.Decode(args[2])
	if err != nil {
		return fmt.Errorf("invalid signature: %v", err)
	}
	d, err := s.domain()
	if err != nil {
		return err
	}
	sep, err := d.Separator()
	if err != nil {
		return err
	}
	digest := crypto.Digest(sep, common.BytesToHash(fp))
	if !crypto.VerifySignature(common.HexToAddress(args[1]), digest.Bytes(), sig) {
		return fmt.Errorf("signature INVALID")
	}
	fmt.Fprintln(c.App.Writer, "Signature VALID")
	return nil
}

func submit(c *cli.Context, s *settings) error {
	args := c.Args()
	if len(args) < 2 {
		return fmt.Errorf("submit needs 2 arguments (received: %d), please check usage using ./settlectl -h", len(args))
	}
	body, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	signer, err := s.signer()
	if err != nil {
		return err
	}
	d, err := s.domain()
	if err != nil {
		return err
	}
	nonce := s.nonce
	if nonce == 0 {
		nonce = uint64(time.Now().UnixNano())
	}

	url := strings.TrimRight(s.apiAddr, "/") + "/" + strings.TrimLeft(args[0], "/")
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := api.SignRequest(req, signer, d, nonce, body); err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\n%s", resp.Status, out)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
