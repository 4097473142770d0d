package sevm

// Env holds the environment registers visible to a contract: the
// transaction context and the block context. Each register is either a
// literal or a symbolic expression depending on how the run is set up.
type Env struct {
	Address   Expr // executing contract address (160-bit)
	Caller    Expr // message sender (160-bit)
	Origin    Expr // transaction origin (160-bit)
	CallValue Expr // wei sent with the call (256-bit)
	GasPrice  Expr // 256-bit

	Coinbase   Expr // 160-bit
	Timestamp  Expr // 256-bit
	Number     Expr // 256-bit
	Difficulty Expr // 256-bit
	GasLimit   Expr // 256-bit
	ChainID    Expr // 256-bit
	BaseFee    Expr // 256-bit

	// Calldata is the input buffer of the call. The array size is
	// concrete when a function signature shapes the buffer and the
	// symbolic "calldatasize" variable otherwise.
	Calldata *Array
}

// NewEnv returns an environment where the transaction inputs are fully
// symbolic and the block context is left symbolic as well. The contract
// address itself is a fixed literal so that self-referential opcodes
// fold.
func NewEnv() *Env {
	return &Env{
		Address:   NewConstantExpr160(0xc0de),
		Caller:    NewSymbolExpr("caller", Width160),
		Origin:    NewSymbolExpr("origin", Width160),
		CallValue: NewSymbolExpr("callvalue", Width256),
		GasPrice:  NewSymbolExpr("gasprice", Width256),

		Coinbase:   NewSymbolExpr("coinbase", Width160),
		Timestamp:  NewSymbolExpr("timestamp", Width256),
		Number:     NewSymbolExpr("number", Width256),
		Difficulty: NewSymbolExpr("difficulty", Width256),
		GasLimit:   NewSymbolExpr("gaslimit", Width256),
		ChainID:    NewSymbolExpr("chainid", Width256),
		BaseFee:    NewSymbolExpr("basefee", Width256),

		Calldata: NewArray("calldata", NewSymbolExpr("calldatasize", Width256)),
	}
}

// SetSignature specializes the calldata buffer for a single call to the
// given function signature, e.g. "add(uint256,uint256)". The buffer is
// resized to the exact encoded length, the four selector bytes become
// literals and the argument region stays symbolic.
func (env *Env) SetSignature(signature string) error {
	sig, err := ParseSignature(signature)
	if err != nil {
		return err
	}

	calldata := NewArray("calldata", NewConstantExpr256(sig.EncodedLen()))
	selector := sig.Selector()
	for i, b := range selector[:] {
		calldata = calldata.Store(NewConstantExpr256(uint64(i)), NewConstantExpr8(uint64(b)), false)
	}
	env.Calldata = calldata
	return nil
}
