package graphics

/** @brief Number of vertex buffer slots tracked per command buffer. */
const MAX_VERTEX_BUFFER_BINDINGS uint32 = 8

/** @brief Number of vertex attributes in a vertex input format. */
const MAX_VERTEX_ATTRIBUTES uint32 = 16

/** @brief Number of descriptor sets a pipeline can address. */
const MAX_DESCRIPTOR_SETS uint32 = 4

/** @brief Number of bindings inside a single descriptor set. */
const MAX_BINDINGS_PER_SET uint32 = 16

/** @brief Number of simultaneous color attachments in a render pass. */
const MAX_COLOR_ATTACHMENTS uint32 = 8

/** @brief Size in bytes of the push constant block. */
const MAX_PUSH_CONSTANT_SIZE uint32 = 128

/**
 * @brief Number of resource barriers buffered before an automatic flush.
 */
const MAX_BUFFERED_BARRIERS int = 16

/** @brief Default ring size for render pass and framebuffer caches. */
const DEFAULT_FRAMEBUFFER_RING_SIZE uint32 = 8

/** @brief Whole-size marker used when binding a buffer range. */
const WHOLE_SIZE uint64 = ^uint64(0)
