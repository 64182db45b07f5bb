package xerr

// 定义了统一的业务错误码
const (
	SuccessCode = 20000 // 通用成功码

	// --- 客户端请求错误系列 (400xx) ---
	InvalidParamsCode     = 40000 // 无效的请求参数
	ChunkIndexInvalidCode = 40001 // 分片序号越界
	ChunkSizeInvalidCode  = 40002 // 分片大小与会话不符
	FileTooLargeCode      = 40003 // 文件过大

	// --- 认证与授权错误系列 (401xx) ---
	UnauthorizedCode = 40100 // 通用未授权
	TokenInvalidCode = 40101 // Token 无效或过期

	// --- 权限错误系列 (403xx) ---
	PermissionDeniedCode = 40301 // 会话不属于当前用户

	// --- 资源未找到错误系列 (404xx) ---
	NotFoundCode              = 40400 // 通用资源未找到
	UploadSessionNotFoundCode = 40406 // 上传会话不存在

	// --- 业务逻辑冲突系列 (409xx) ---
	UploadIncompleteCode = 40905 // 分片未全部上传
	UploadFinalizedCode  = 40906 // 会话已合并完成
	ChunkCorruptedCode   = 40907 // 合并时发现分片缺失或重复

	// --- 限流 (429xx) ---
	TooManyRequestsCode = 42900

	// --- 服务器内部错误系列 (500xx) ---
	InternalServerErrorCode = 50000 // 服务器内部通用错误
	UnavailableCode         = 50300 // 依赖的存储服务不可用
)
