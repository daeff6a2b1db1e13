package account

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testOwner      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testFactory    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	testAccount    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

type fakeNetworkClient struct {
	code     map[common.Address][]byte
	nonce    *big.Int
	callErr  error
	calls    []ethereum.CallMsg
	getAddrs int
}

func (c *fakeNetworkClient) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.calls = append(c.calls, msg)
	if c.callErr != nil {
		return nil, c.callErr
	}

	switch {
	case *msg.To == testFactory && bytes.HasPrefix(msg.Data, factoryABI.Methods["getAddress"].ID):
		c.getAddrs++
		return factoryABI.Methods["getAddress"].Outputs.Pack(testAccount)
	case *msg.To == testEntryPoint && bytes.HasPrefix(msg.Data, entryPointABI.Methods["getNonce"].ID):
		return entryPointABI.Methods["getNonce"].Outputs.Pack(c.nonce)
	}
	return nil, errors.New("unexpected call")
}

func (c *fakeNetworkClient) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	return c.code[account], nil
}

func (c *fakeNetworkClient) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(11155111), nil
}

func (c *fakeNetworkClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(100)}, nil
}

func (c *fakeNetworkClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2), nil
}

func newTestAccount(t *testing.T, client *fakeNetworkClient) *SimpleAccount {
	a, err := NewSimpleAccount(context.Background(), client, Config{
		Owner:      testOwner,
		Salt:       big.NewInt(1),
		Factory:    testFactory,
		EntryPoint: testEntryPoint,
	})
	require.NoError(t, err)
	return a
}

func TestNewSimpleAccount_ResolvesAddress(t *testing.T) {
	client := &fakeNetworkClient{}
	a := newTestAccount(t, client)

	assert.Equal(t, testAccount, a.Address())
	assert.Equal(t, testEntryPoint, a.EntryPoint())
	assert.Equal(t, 1, client.getAddrs)
	assert.Same(t, client, a.Client())
}

func TestNewSimpleAccount_KnownAddress(t *testing.T) {
	client := &fakeNetworkClient{}
	known := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	a, err := NewSimpleAccount(context.Background(), client, Config{
		Owner:      testOwner,
		EntryPoint: testEntryPoint,
		Address:    &known,
	})
	require.NoError(t, err)
	assert.Equal(t, known, a.Address())
	assert.Empty(t, client.calls)
}

func TestNewSimpleAccount_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewSimpleAccount(ctx, nil, Config{EntryPoint: testEntryPoint})
	assert.Error(t, err)

	_, err = NewSimpleAccount(ctx, &fakeNetworkClient{}, Config{Factory: testFactory})
	assert.ErrorContains(t, err, "entry point")

	_, err = NewSimpleAccount(ctx, &fakeNetworkClient{}, Config{EntryPoint: testEntryPoint})
	assert.ErrorContains(t, err, "factory")

	_, err = NewSimpleAccount(ctx, &fakeNetworkClient{callErr: errors.New("rpc down")}, Config{Factory: testFactory, EntryPoint: testEntryPoint})
	assert.ErrorContains(t, err, "rpc down")
}

func TestSimpleAccount_GetNonce(t *testing.T) {
	client := &fakeNetworkClient{nonce: big.NewInt(5)}
	a := newTestAccount(t, client)

	nonce, err := a.GetNonce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), nonce.Int64())

	// sender and key 0 are passed to the entry point
	last := client.calls[len(client.calls)-1]
	args, err := entryPointABI.Methods["getNonce"].Inputs.Unpack(last.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, testAccount, args[0])
	assert.Equal(t, int64(0), args[1].(*big.Int).Int64())
}

func TestSimpleAccount_GetInitCode(t *testing.T) {
	t.Run("not deployed", func(t *testing.T) {
		a := newTestAccount(t, &fakeNetworkClient{})

		initCode, err := a.GetInitCode(context.Background())
		require.NoError(t, err)

		require.Greater(t, len(initCode), common.AddressLength)
		assert.Equal(t, testFactory.Bytes(), initCode[:common.AddressLength])

		calldata := initCode[common.AddressLength:]
		method := factoryABI.Methods["createAccount"]
		assert.Equal(t, method.ID, calldata[:4])
		args, err := method.Inputs.Unpack(calldata[4:])
		require.NoError(t, err)
		assert.Equal(t, testOwner, args[0])
		assert.Equal(t, int64(1), args[1].(*big.Int).Int64())
	})

	t.Run("deployed", func(t *testing.T) {
		a := newTestAccount(t, &fakeNetworkClient{code: map[common.Address][]byte{testAccount: {0x60, 0x80}}})

		initCode, err := a.GetInitCode(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, initCode)
		assert.Empty(t, initCode)
	})
}

func TestSimpleAccount_GetDummySignature(t *testing.T) {
	a := newTestAccount(t, &fakeNetworkClient{})

	sig, err := a.GetDummySignature(context.Background())
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	// callers may mutate the returned slice
	sig[0] = 0x00
	again, err := a.GetDummySignature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), again[0])
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("Simple")
	require.NoError(t, err)
	assert.Equal(t, KindSimple, kind)

	kind, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindSimple, kind)

	_, err = ParseKind("kernel")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	a, err := New(context.Background(), &fakeNetworkClient{}, Config{
		Kind:       KindSimple,
		Owner:      testOwner,
		Factory:    testFactory,
		EntryPoint: testEntryPoint,
	})
	require.NoError(t, err)
	assert.Equal(t, testAccount, a.Address())

	_, err = New(context.Background(), &fakeNetworkClient{}, Config{Kind: "kernel"})
	assert.Error(t, err)
}
