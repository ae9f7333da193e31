// Copyright 2021 Converter Systems LLC. All rights reserved.

package uasc

import (
	"github.com/djherbis/buffer"
	"github.com/systerel/S2OPC-sub041/uacp"
)

// bufferPool is a pool of capacity buffers backing message reassembly.
var bufferPool = buffer.NewMemPoolAt(int64(uacp.DefaultBufferSize))
