package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/groupauth-agent/cryptoutils"
	"github.com/ruteri/groupauth-agent/interfaces"
	"github.com/ruteri/groupauth-agent/registry"
)

var flagRPCAddr *cli.StringFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	Value:   "http://127.0.0.1:8545",
	Usage:   "address to connect to RPC",
	EnvVars: []string{"RPC_URL"},
}
var flagContract *cli.StringFlag = &cli.StringFlag{
	Name:     "groupauth-contract",
	Required: true,
	Usage:    "GroupAuth contract address",
	EnvVars:  []string{"GROUPAUTH_ADDRESS"},
}
var flagMemberID *cli.StringFlag = &cli.StringFlag{
	Name:     "member-id",
	Required: true,
	Usage:    "member id, 32-byte hex string",
}
var flagPrivkey *cli.StringFlag = &cli.StringFlag{
	Name:  "privkey",
	Usage: "hex-encoded secp256k1 private key (transaction signing / payload decryption)",
}

func main() {
	app := &cli.App{
		Name:  "groupauth-client",
		Usage: "Inspect and administer a GroupAuth membership contract",
		Flags: []cli.Flag{
			flagRPCAddr,
			flagContract,
		},
		Commands: []*cli.Command{
			{
				Name:  "is-member",
				Usage: "Check whether a member id is registered",
				Flags: []cli.Flag{flagMemberID},
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return c.IsMember(cCtx.String(flagMemberID.Name))
				},
			},
			{
				Name:  "get-member",
				Usage: "Print the membership record for a member id",
				Flags: []cli.Flag{flagMemberID},
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return c.GetMember(cCtx.String(flagMemberID.Name))
				},
			},
			{
				Name:  "get-onboarding",
				Usage: "Print a member's onboarding inbox, decrypting payloads if a key is given",
				Flags: []cli.Flag{flagMemberID, flagPrivkey},
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return c.GetOnboarding(cCtx.String(flagMemberID.Name), cCtx.String(flagPrivkey.Name))
				},
			},
			{
				Name:  "add-allowed-code",
				Usage: "Allow a code id to register (governance key required)",
				Flags: []cli.Flag{
					flagPrivkey,
					&cli.StringFlag{
						Name:     "code-id",
						Required: true,
						Usage:    "code id, 32-byte hex string",
					},
				},
				Action: func(cCtx *cli.Context) error {
					c, err := newClient(cCtx)
					if err != nil {
						return err
					}
					return c.AddAllowedCode(cCtx.String("code-id"), cCtx.String(flagPrivkey.Name))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type client struct {
	eth *ethclient.Client
	reg *registry.GroupAuthClient
}

func newClient(cCtx *cli.Context) (*client, error) {
	contractAddr := cCtx.String(flagContract.Name)
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid groupauth contract address: %s", contractAddr)
	}

	eth, err := ethclient.Dial(cCtx.String(flagRPCAddr.Name))
	if err != nil {
		return nil, fmt.Errorf("could not dial RPC: %w", err)
	}

	reg, err := registry.NewGroupAuthClient(eth, eth, common.HexToAddress(contractAddr))
	if err != nil {
		return nil, err
	}

	return &client{eth: eth, reg: reg}, nil
}

func (c *client) IsMember(memberHex string) error {
	id, err := interfaces.NewMemberIDFromHex(memberHex)
	if err != nil {
		return err
	}

	member, err := c.reg.IsMember(context.Background(), id)
	if err != nil {
		return err
	}

	fmt.Printf("%s: member=%t\n", id, member)
	return nil
}

func (c *client) GetMember(memberHex string) error {
	id, err := interfaces.NewMemberIDFromHex(memberHex)
	if err != nil {
		return err
	}

	record, err := c.reg.GetMember(context.Background(), id)
	if err != nil {
		return err
	}

	fmt.Printf("memberId:     %s\n", id)
	fmt.Printf("codeId:       %s\n", record.CodeID)
	fmt.Printf("pubkey:       0x%x\n", record.Pubkey)
	fmt.Printf("registeredAt: %s\n", record.RegisteredAt)
	return nil
}

func (c *client) GetOnboarding(memberHex, privkeyHex string) error {
	id, err := interfaces.NewMemberIDFromHex(memberHex)
	if err != nil {
		return err
	}

	msgs, err := c.reg.GetOnboarding(context.Background(), id)
	if err != nil {
		return err
	}

	var priv *ecdsa.PrivateKey
	if privkeyHex != "" {
		if priv, err = parsePrivkey(privkeyHex); err != nil {
			return err
		}
	}

	for i, msg := range msgs {
		fmt.Printf("[%d] from %s\n", i, msg.FromMember)
		if priv == nil {
			fmt.Printf("    payload: 0x%x\n", msg.EncryptedPayload)
			continue
		}

		plaintext, err := cryptoutils.DecryptWithKey(priv, msg.EncryptedPayload)
		if err != nil {
			fmt.Printf("    payload: <decryption failed: %v>\n", err)
			continue
		}
		fmt.Printf("    payload: %q\n", plaintext)
	}
	return nil
}

func (c *client) AddAllowedCode(codeHex, privkeyHex string) error {
	if privkeyHex == "" {
		return fmt.Errorf("add-allowed-code requires --privkey")
	}

	clean := strings.TrimPrefix(codeHex, "0x")
	codeBytes, err := hex.DecodeString(clean)
	if err != nil || len(codeBytes) != 32 {
		return fmt.Errorf("invalid code id: %s", codeHex)
	}
	var codeID interfaces.CodeID
	copy(codeID[:], codeBytes)

	priv, err := parsePrivkey(privkeyHex)
	if err != nil {
		return err
	}

	chainID, err := c.eth.ChainID(context.Background())
	if err != nil {
		return fmt.Errorf("could not read chain id: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(priv, chainID)
	if err != nil {
		return fmt.Errorf("could not create transactor: %w", err)
	}
	c.reg.SetTransactOpts(auth)

	receipt, err := c.reg.AddAllowedCode(context.Background(), codeID)
	if err != nil {
		return err
	}

	fmt.Printf("code %s allowed, tx %s\n", codeID, receipt.TxHash)
	return nil
}

func parsePrivkey(privkeyHex string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(privkeyHex, "0x"))
}
